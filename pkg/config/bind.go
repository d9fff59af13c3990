// Package config provides the archiver's closed, typed configuration
// surface: a struct tree walked by reflection to produce pflag flags
// and viper bindings, with dev/release default precedence and
// $CONFDIR-style path substitution, in the same style the rest of the
// ecosystem uses for CLI configuration.
package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/pflag"
)

// Release controls which of releaseDefault/devDefault wins when a
// field has both. Set at build time via -ldflags, defaulting to false
// (development build) so a plain `go build` never silently picks up
// release-only defaults.
var Release = false

// BindOpt customizes Bind's behavior.
type BindOpt func(*bindOpts)

type bindOpts struct {
	confDir       string
	confDirNested bool
	namePrefix    string
}

// ConfDir substitutes $CONFDIR/${CONFDIR} in default tags with dir.
func ConfDir(dir string) BindOpt {
	return func(o *bindOpts) { o.confDir = dir }
}

// ConfDirNested behaves like ConfDir but additionally appends the
// dotted struct path below the top level, so each nested struct's
// defaults land in a distinct subdirectory of dir.
func ConfDirNested(dir string) BindOpt {
	return func(o *bindOpts) {
		o.confDir = dir
		o.confDirNested = true
	}
}

// Bind walks config (a pointer to struct) and registers one pflag flag
// per leaf field, using each field's current value as the flag
// default unless a `default`/`releaseDefault`/`devDefault` tag
// overrides it. Nested structs become dotted flag names
// (`struct.field`); fixed-size arrays become zero-padded numeric
// segments (`fields.03.another-int`).
func Bind(flags *pflag.FlagSet, config interface{}, opts ...BindOpt) {
	var o bindOpts
	for _, opt := range opts {
		opt(&o)
	}

	v := reflect.ValueOf(config)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		panic("config: Bind requires a pointer to a struct")
	}

	bindStruct(flags, v.Elem(), "", "", &o)
}

func bindStruct(flags *pflag.FlagSet, v reflect.Value, flagPrefix, pathPrefix string, o *bindOpts) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		fv := v.Field(i)
		name := dashify(field.Name)
		flagName := joinName(flagPrefix, name)
		fieldPath := joinName(pathPrefix, name)

		switch fv.Kind() {
		case reflect.Struct:
			subConfDir := o.confDir
			if o.confDirNested && subConfDir != "" {
				subConfDir = filepath.Join(subConfDir, name)
			}
			sub := *o
			sub.confDir = subConfDir
			bindStruct(flags, fv, flagName, fieldPath, &sub)
			continue
		case reflect.Array:
			for j := 0; j < fv.Len(); j++ {
				elemName := fmt.Sprintf("%s.%02d", flagName, j)
				elemPath := fmt.Sprintf("%s.%02d", fieldPath, j)
				elem := fv.Index(j)
				if elem.Kind() == reflect.Struct {
					bindStruct(flags, elem, elemName, elemPath, o)
				} else {
					bindLeaf(flags, elem, field, elemName, o)
				}
			}
			continue
		}

		bindLeaf(flags, fv, field, flagName, o)
	}
}

func bindLeaf(flags *pflag.FlagSet, fv reflect.Value, field reflect.StructField, flagName string, o *bindOpts) {
	defaultStr, hasDefault := resolveDefault(field)
	if hasDefault {
		defaultStr = substituteConfDir(defaultStr, o)
	}
	usage := field.Tag.Get("usage")
	hidden := field.Tag.Get("hidden") == "true"

	switch fv.Kind() {
	case reflect.String:
		def := fv.String()
		if hasDefault {
			def = defaultStr
		}
		flags.StringVar(fv.Addr().Interface().(*string), flagName, def, usage)
	case reflect.Bool:
		def := fv.Bool()
		if hasDefault {
			def, _ = strconv.ParseBool(defaultStr)
		}
		flags.BoolVar(fv.Addr().Interface().(*bool), flagName, def, usage)
	case reflect.Int:
		def := int(fv.Int())
		if hasDefault {
			n, _ := strconv.Atoi(defaultStr)
			def = n
		}
		flags.IntVar(fv.Addr().Interface().(*int), flagName, def, usage)
	case reflect.Int64:
		if fv.Type() == reflect.TypeOf(time.Duration(0)) {
			def := time.Duration(fv.Int())
			if hasDefault {
				d, err := time.ParseDuration(defaultStr)
				if err == nil {
					def = d
				}
			}
			flags.DurationVar(fv.Addr().Interface().(*time.Duration), flagName, def, usage)
			break
		}
		def := fv.Int()
		if hasDefault {
			n, _ := strconv.ParseInt(defaultStr, 10, 64)
			def = n
		}
		flags.Int64Var(fv.Addr().Interface().(*int64), flagName, def, usage)
	case reflect.Uint:
		def := uint(fv.Uint())
		if hasDefault {
			n, _ := strconv.ParseUint(defaultStr, 10, 64)
			def = uint(n)
		}
		flags.UintVar(fv.Addr().Interface().(*uint), flagName, def, usage)
	case reflect.Uint64:
		def := fv.Uint()
		if hasDefault {
			n, _ := strconv.ParseUint(defaultStr, 10, 64)
			def = n
		}
		flags.Uint64Var(fv.Addr().Interface().(*uint64), flagName, def, usage)
	case reflect.Float64:
		def := fv.Float()
		if hasDefault {
			f, _ := strconv.ParseFloat(defaultStr, 64)
			def = f
		}
		flags.Float64Var(fv.Addr().Interface().(*float64), flagName, def, usage)
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.String {
			def := fv.Interface().([]string)
			if hasDefault && defaultStr != "" {
				def = strings.Split(defaultStr, ",")
			}
			flags.StringSliceVar(fv.Addr().Interface().(*[]string), flagName, def, usage)
		}
	default:
		return
	}

	if hidden {
		f := flags.Lookup(flagName)
		if f != nil {
			f.Hidden = true
		}
	}
}

// resolveDefault applies release/dev precedence: releaseDefault wins
// in a release build, devDefault in a development build, and a plain
// default applies regardless of build mode when the mode-specific tag
// is absent.
func resolveDefault(field reflect.StructField) (string, bool) {
	if Release {
		if s, ok := field.Tag.Lookup("releaseDefault"); ok {
			return s, true
		}
	} else {
		if s, ok := field.Tag.Lookup("devDefault"); ok {
			return s, true
		}
	}
	if s, ok := field.Tag.Lookup("default"); ok {
		return s, true
	}
	return "", false
}

func substituteConfDir(s string, o *bindOpts) string {
	s = strings.ReplaceAll(s, "${CONFDIR}", o.confDir)
	s = strings.ReplaceAll(s, "$CONFDIR", o.confDir)
	return s
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// dashify converts a CamelCase Go field name into a kebab-case flag
// segment: "MyStruct1" -> "my-struct1", "AnotherInt" -> "another-int".
func dashify(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('-')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
