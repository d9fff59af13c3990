package config

import (
	goflag "flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended (with an underscore) to every flag's
// upper-cased, dash/dot-to-underscore-normalized name to form the
// environment variable Exec checks for an override, e.g. flag
// "object-store.bucket" becomes ARCHIVER_OBJECT_STORE_BUCKET.
const EnvPrefix = "ARCHIVER"

var envReplacer = strings.NewReplacer(".", "_", "-", "_")

// BindCmd binds config's fields onto cmd's flag set, the cobra-facing
// counterpart to Bind.
func BindCmd(cmd *cobra.Command, config interface{}, opts ...BindOpt) {
	Bind(cmd.Flags(), config, opts...)
}

// Exec merges the standard library's global flag.CommandLine into
// cmd's flags (so code that still registers flags the old way remains
// bindable), applies any ARCHIVER_-prefixed environment overrides on
// top of the compiled-in defaults, and executes cmd.
func Exec(cmd *cobra.Command) error {
	cmd.Flags().AddGoFlagSet(goflag.CommandLine)

	if err := ApplyEnvOverrides(cmd); err != nil {
		return err
	}

	return cmd.Execute()
}

// ApplyEnvOverrides sets every flag in cmd's flag set that has a
// matching ARCHIVER_-prefixed environment variable. Exec calls this
// for the top-level command before executing; a multi-command CLI
// whose flags are bound per-subcommand (rather than on the root)
// should call this itself from each subcommand's PreRunE, once cobra
// has resolved which command is actually running.
func ApplyEnvOverrides(cmd *cobra.Command) error {
	var setErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if setErr != nil {
			return
		}
		key := EnvPrefix + "_" + strings.ToUpper(envReplacer.Replace(f.Name))
		if val, ok := os.LookupEnv(key); ok {
			if err := cmd.Flags().Set(f.Name, val); err != nil {
				setErr = fmt.Errorf("config: env override %s: %w", key, err)
			}
		}
	})
	return setErr
}

// SaveConfig writes every non-hidden flag in cmd's flag set to path as
// a commented-out sample: "# name: default-value" per line, so an
// operator can uncomment and edit the entries they want to override.
func SaveConfig(cmd *cobra.Command, path string) error {
	var names []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		names = append(names, f.Name)
	})
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		f := cmd.Flags().Lookup(name)
		fmt.Fprintf(&b, "# %s: %s\n", name, f.DefValue)
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}

// LoadConfigFile layers path (YAML, TOML, or JSON, detected by
// extension) under cmd's already-bound flags: any key the file sets
// is applied to the matching flag before Exec resolves environment
// overrides on top, so the precedence order is compiled-in default <
// config file < environment variable < explicit command-line flag.
func LoadConfigFile(cmd *cobra.Command, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var setErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if setErr != nil || f.Changed {
			return
		}
		if !v.IsSet(f.Name) {
			return
		}
		if err := cmd.Flags().Set(f.Name, v.GetString(f.Name)); err != nil {
			setErr = fmt.Errorf("config: apply %s from %s: %w", f.Name, path, err)
		}
	})
	return setErr
}
