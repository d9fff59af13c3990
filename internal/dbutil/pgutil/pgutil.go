// Package pgutil provides the Postgres-specific helpers the Source-DB
// Adapter and Lock Manager's advisory backend are built on: connection
// opening with a tagged application_name, and schema introspection.
package pgutil

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq" // database/sql driver registration
)

// Open opens a *sql.DB against connstr, tagging the connection with
// application_name so `pg_stat_activity` can identify the archiver
// (and which logical component of it) that issued a query.
func Open(connstr, applicationName string) (*sql.DB, error) {
	tagged, err := WithApplicationName(connstr, applicationName)
	if err != nil {
		return nil, fmt.Errorf("pgutil: invalid connection string: %w", err)
	}
	db, err := sql.Open("postgres", tagged)
	if err != nil {
		return nil, fmt.Errorf("pgutil: open: %w", err)
	}
	return db, nil
}

// WithApplicationName returns connstr with application_name set or
// overridden to name, preserving every other parameter.
func WithApplicationName(connstr, name string) (string, error) {
	if strings.HasPrefix(connstr, "postgres://") || strings.HasPrefix(connstr, "postgresql://") {
		u, err := url.Parse(connstr)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("application_name", name)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	// key=value DSN form.
	return connstr + " application_name='" + strings.ReplaceAll(name, "'", "") + "'", nil
}
