// Package archiveerr defines the archiver's closed error taxonomy.
//
// Every error that crosses a component boundary belongs to exactly one
// of the five classes below. Classification is by class membership,
// never by matching against an error's message text.
package archiveerr

import (
	"fmt"

	"github.com/zeebo/errs"
)

var (
	// Fatal errors halt the run before any side effect: invalid
	// configuration, an unreachable object store at startup, encryption
	// required but disabled.
	Fatal = errs.Class("fatal")

	// TableErr aborts the current table; other tables and databases
	// continue.
	TableErr = errs.Class("table_error")

	// BatchTransient is rolled back and retried up to the batch retry
	// budget; once exhausted it is promoted to TableErr.
	BatchTransient = errs.Class("batch_error_transient")

	// BatchPermanent is rolled back and immediately promoted to
	// TableErr; no further batches of that table run.
	BatchPermanent = errs.Class("batch_error_permanent")

	// Warning is logged but never aborts anything.
	Warning = errs.Class("warning")
)

// Context carries the structured fields every archiver error should be
// wrapped with before it crosses a component boundary.
type Context struct {
	Database    string
	Schema      string
	Table       string
	BatchOrdinal int
	Fingerprint string
	Phase       string
}

// String renders the context for inclusion in a wrapped error message.
func (c Context) String() string {
	return fmt.Sprintf("db=%s schema=%s table=%s batch=%d fingerprint=%s phase=%s",
		c.Database, c.Schema, c.Table, c.BatchOrdinal, c.Fingerprint, c.Phase)
}

// Wrap attaches ctx to err using class, producing an error that is both
// a member of class (for classification) and carries the structured
// context (for logging and audit trails).
func Wrap(class *errs.Class, ctx Context, err error) error {
	if err == nil {
		return nil
	}
	return class.Wrap(fmt.Errorf("%s: %w", ctx.String(), err))
}

// IsTransient reports whether err belongs to a class that the retry
// policy should keep retrying.
func IsTransient(err error) bool {
	return BatchTransient.Has(err)
}

// IsPermanent reports whether err belongs to a class that must never be
// retried.
func IsPermanent(err error) bool {
	return BatchPermanent.Has(err) || TableErr.Has(err) || Fatal.Has(err)
}

// Promote wraps a transient batch error as a table error once the
// retry budget for that batch is exhausted.
func Promote(ctx Context, err error) error {
	return Wrap(&TableErr, ctx, err)
}
