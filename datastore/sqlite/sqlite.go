// Package sqlite implements the datastore interfaces over an embedded SQLite
// database.
//
// The store runs in WAL mode: many concurrent readers, one writer. Writes
// ride a 5 second busy timeout plus a short bounded retry, after which the
// caller sees a busy-kind error and can shed load.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed" // embed the schema
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/quay/zlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
)

//go:embed sql/schema.sql
var schema string

var tracer = otel.Tracer("fleetvuln/datastore/sqlite")

// WriteAttempts is how many times a write transaction is retried after the
// in-database busy timeout expires before the busy-kind error goes to the
// caller.
const writeAttempts = 3

var _ datastore.Store = (*Store)(nil)

// Store is a handle to the SQLite-backed datastore.
type Store struct {
	db *sql.DB
}

// Open opens the named database, creating it and its schema as needed.
//
// Must be a file on-disk; the WAL sidecars are owned by the library. The
// returned Store must have its Close method called, or the process may
// panic.
func Open(ctx context.Context, path string) (*Store, error) {
	u := url.URL{
		Scheme: `file`,
		Opaque: path,
		RawQuery: url.Values{
			"_txlock": {"immediate"},
			"_pragma": {
				"foreign_keys(1)",
				"journal_mode(wal)",
				"synchronous(normal)",
				"busy_timeout(5000)",
			},
		}.Encode(),
	}
	db, err := sql.Open(`sqlite`, u.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	s := Store{db: db}
	_, file, line, _ := runtime.Caller(1)
	runtime.SetFinalizer(&s, func(s *Store) {
		panic(fmt.Sprintf("%s:%d: store not closed", file, line))
	})
	zlog.Info(ctx).Str("path", path).Msg("store opened")
	return &s, nil
}

// Close releases held resources.
//
// This must be called when the Store is no longer needed, or the process may
// panic.
func (s *Store) Close() error {
	runtime.SetFinalizer(s, nil)
	return s.db.Close()
}

// Initialized reports whether the store contains vulnerability records.
func (s *Store) Initialized(ctx context.Context) (ok bool, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM vulnerability);`).Scan(&ok)
	return ok, err
}

// Method is a helper for setting up the observability and logging for an
// exported method.
//
// This should be called immediately inside of exported methods. The returned
// function must be called to clean up the tracing span and record the
// method's metrics.
func (s *Store) method(ctx context.Context, err *error) (context.Context, func()) {
	pc, _, _, _ := runtime.Caller(1)
	n := runtime.FuncForPC(pc).Name()
	funcPath := strings.TrimPrefix(n, "github.com/fleetvuln/fleetvuln/")
	i := strings.LastIndexByte(n, '.')
	if i == -1 {
		panic("name without dot: " + n)
	}
	funcName := n[i+1:]
	ctx = zlog.ContextWithValues(ctx, "component", funcPath)
	ctx, span := tracer.Start(ctx, funcName, trace.WithSpanKind(trace.SpanKindInternal))
	zlog.Debug(ctx).Msg("start")
	finish := startMetrics(funcName, err)
	return ctx, func() {
		finish()
		ev := zlog.Debug(ctx)
		if *err != nil {
			*err = fmt.Errorf("sqlite: %s: %w", funcName, *err)
			span.RecordError(*err)
			span.SetStatus(codes.Error, "method error")
			ev = ev.Err(*err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		ev.Msg("done")
		span.End()
	}
}

// TxFunc is the function signature for the inner call of the [*Store.write]
// helper.
type txFunc func(ctx context.Context, tx *sql.Tx) error

// Write runs inner inside a write transaction, retrying the whole
// transaction when SQLite reports contention that outlasted the in-database
// busy timeout. After the retry budget is spent the caller sees a busy-kind
// error.
func (s *Store) write(ctx context.Context, inner txFunc) error {
	const baseBackoff = 50 * time.Millisecond
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if attempt != 0 {
			backoff := baseBackoff << (attempt - 1)
			backoff += time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-time.After(backoff):
			}
			zlog.Debug(ctx).Int("attempt", attempt).Msg("retrying write")
		}
		err = func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()
			if err := inner(ctx, tx); err != nil {
				return err
			}
			return tx.Commit()
		}()
		if !isBusy(err) {
			return err
		}
	}
	return &fleetvuln.Error{
		Op:      `write`,
		Kind:    fleetvuln.ErrBusy,
		Message: fmt.Sprintf("store contention outlasted %d attempts", writeAttempts),
		Inner:   err,
	}
}

// IsBusy reports whether the error is SQLite contention that's worth
// retrying.
func isBusy(err error) bool {
	var se *sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsConstraint reports whether the error is a constraint violation.
func isConstraint(err error) bool {
	var se *sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT
}
