package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/labsbykora/audit-table-archiver/pkg/compliance"
	"github.com/labsbykora/audit-table-archiver/pkg/sourcedb"
)

// targetsFile is the minimal on-disk shape naming which databases and
// tables to archive. It is deliberately thin: everything about how a
// run behaves lives in Config (bound from flags/env/config file by
// pkg/config); this file only enumerates where to point that
// behavior.
type targetsFile struct {
	Databases []databaseTargets `yaml:"databases"`
}

type databaseTargets struct {
	Name             string        `yaml:"name"`
	ConnectionString string        `yaml:"connection_string"` // "$ENV_VAR" resolves from the environment
	VacuumStrategy   string        `yaml:"vacuum_strategy"`
	Tables           []tableTarget `yaml:"tables"`
}

type tableTarget struct {
	Schema         string   `yaml:"schema"`
	Table          string   `yaml:"table"`
	Columns        []string `yaml:"columns"`
	TSColumn       string   `yaml:"ts_column"`
	PKColumns      []string `yaml:"pk_columns"`
	RetentionDays  int      `yaml:"retention_days"`
	Classification string   `yaml:"classification"`
	Critical       bool     `yaml:"critical"`
	// SchemaHash is the baseline hash `validate` checks the table's
	// current introspected schema against. Left empty until an
	// operator runs `archiver validate` once (it prints the current
	// hash of every table with no baseline) and copies the result in.
	SchemaHash string `yaml:"schema_hash"`
}

// loadTargets reads and parses a targets file.
func loadTargets(path string) (*targetsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("targets: read %s: %w", path, err)
	}
	var tf targetsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("targets: parse %s: %w", path, err)
	}
	for _, db := range tf.Databases {
		if db.Name == "" {
			return nil, fmt.Errorf("targets: database entry missing name")
		}
		for _, t := range db.Tables {
			if t.Schema == "" || t.Table == "" {
				return nil, fmt.Errorf("targets: database %s has a table entry missing schema/table", db.Name)
			}
			if t.TSColumn == "" || len(t.PKColumns) == 0 {
				return nil, fmt.Errorf("targets: %s.%s.%s needs ts_column and at least one pk_column", db.Name, t.Schema, t.Table)
			}
		}
	}
	return &tf, nil
}

// resolveConnectionString expands a "$ENV_VAR" connection string
// against the process environment, or returns raw unchanged if it
// doesn't start with "$".
func resolveConnectionString(raw string) (string, error) {
	if len(raw) == 0 || raw[0] != '$' {
		return raw, nil
	}
	name := raw[1:]
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("targets: environment variable %s is not set", name)
	}
	return v, nil
}

func parseVacuumStrategy(s string) sourcedb.VacuumStrategy {
	switch s {
	case "analyze":
		return sourcedb.VacuumAnalyze
	case "standard":
		return sourcedb.VacuumStandard
	case "full":
		return sourcedb.VacuumFull
	default:
		return sourcedb.VacuumNone
	}
}

// profileFor builds the compliance profile a TableOrchestrator gates
// admission on.
func (t tableTarget) profileFor(database, sseOption string) compliance.TableProfile {
	return compliance.TableProfile{
		Database:       database,
		Schema:         t.Schema,
		Table:          t.Table,
		Classification: t.Classification,
		RetentionDays:  t.RetentionDays,
		Critical:       t.Critical,
		SSEOption:      sseOption,
	}
}

// cutoffFor computes the archive cutoff time for a table given its
// configured retention window, evaluated against serverNow (the
// source database's own clock, not the archiver host's).
func cutoffFor(serverNow time.Time, retentionDays int) time.Time {
	if retentionDays <= 0 {
		retentionDays = 1
	}
	return serverNow.AddDate(0, 0, -retentionDays)
}
