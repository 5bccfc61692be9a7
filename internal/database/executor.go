package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/metrics"
)

// maxErrorMessage bounds driver text copied into execution errors.
const maxErrorMessage = 256

// Params are the values bound to a statement's ? placeholders, in order.
type Params []any

// DDLNotPermittedError is the panic value raised when a DDL statement is
// executed without allowDDL. It signals a bug in the caller, not bad input.
type DDLNotPermittedError struct {
	Category    Category
	Identifiers []string
}

func (e *DDLNotPermittedError) Error() string {
	return fmt.Sprintf("database: %s statement executed without allowDDL (identifiers %v)", e.Category, e.Identifiers)
}

// WriteResult reports the effect of a row write.
type WriteResult struct {
	RowsAffected int64
	LastInsertID int64
}

// Executor is the only path by which statements reach the database. Every
// call holds a single process-wide lock for its whole duration.
type Executor struct {
	db  *DB
	sem chan struct{}
	log zerolog.Logger
	now func() time.Time
}

// NewExecutor returns an executor over db.
func NewExecutor(db *DB, log zerolog.Logger) *Executor {
	return &Executor{
		db:  db,
		sem: make(chan struct{}, 1),
		log: log.With().Str("component", "executor").Logger(),
		now: time.Now,
	}
}

// DB returns the underlying handle.
func (x *Executor) DB() *DB { return x.db }

// Execute runs a classified statement. REJECTED statements are refused with
// a RejectedStatement error. DDL without allowDDL panics with
// *DDLNotPermittedError. Driver failures come back as Execution errors
// carrying SYNTAX, CONSTRAINT, LOCKED or UNKNOWN.
func (x *Executor) Execute(ctx context.Context, stmt Statement, params Params, allowDDL bool) (*ResultSet, error) {
	const op errors.Op = "database.Execute"
	start := x.now()

	args, err := x.admit(op, stmt, params, allowDDL)
	if err != nil {
		x.audit(stmt, start, 0, err)
		return nil, err
	}
	if err := x.acquire(ctx); err != nil {
		err = errors.E(op, errors.ExecLocked, "timed out waiting for the database lock")
		x.audit(stmt, start, 0, err)
		return nil, err
	}
	defer x.release()

	rs, err := run(ctx, op, x.db.DB, stmt, args)
	x.audit(stmt, start, rowCount(rs), err)
	return rs, err
}

// Query classifies sqlText and executes it on the read path.
func (x *Executor) Query(ctx context.Context, sqlText string, params ...any) (*ResultSet, error) {
	return x.Execute(ctx, Classify(sqlText), params, false)
}

// Select runs a read statement and scans the rows into dest, a pointer to
// a slice of structs with db tags. Only READ_QUERY and PRAGMA_READ are
// accepted.
func (x *Executor) Select(ctx context.Context, dest any, sqlText string, params ...any) error {
	const op errors.Op = "database.Select"
	start := x.now()

	stmt := Classify(sqlText)
	if stmt.category != Rejected && !stmt.category.IsRead() {
		stmt = stmt.reject(stmt.category.String() + " cannot be selected")
	}
	args, err := x.admit(op, stmt, params, false)
	if err != nil {
		x.audit(stmt, start, 0, err)
		return err
	}
	if err := x.acquire(ctx); err != nil {
		err = errors.E(op, errors.ExecLocked, "timed out waiting for the database lock")
		x.audit(stmt, start, 0, err)
		return err
	}
	defer x.release()

	if err := sqlx.SelectContext(ctx, x.db.DB, dest, stmt.text, args...); err != nil {
		err = mapDriverError(op, err)
		x.audit(stmt, start, 0, err)
		return err
	}
	x.audit(stmt, start, sliceLen(dest), nil)
	return nil
}

// Write runs a single INSERT, UPDATE, DELETE or REPLACE with bound values.
// It serves the application's own bookkeeping tables and is never handed
// user SQL.
func (x *Executor) Write(ctx context.Context, query string, args ...any) (WriteResult, error) {
	const op errors.Op = "database.Write"
	start := x.now()

	stmt := classifyWrite(query)
	bound, err := x.admit(op, stmt, args, false)
	if err != nil {
		x.audit(stmt, start, 0, err)
		return WriteResult{}, err
	}
	if err := x.acquire(ctx); err != nil {
		err = errors.E(op, errors.ExecLocked, "timed out waiting for the database lock")
		x.audit(stmt, start, 0, err)
		return WriteResult{}, err
	}
	defer x.release()

	res, err := write(ctx, op, x.db.DB, stmt, bound)
	x.audit(stmt, start, int(res.RowsAffected), err)
	return res, err
}

// InTx runs fn inside a transaction while holding the executor lock, so
// multi-step work is atomic and never interleaves with other statements.
// fn must use only the Tx it is given; calling back into the Executor from
// fn deadlocks.
func (x *Executor) InTx(ctx context.Context, fn func(*Tx) error) error {
	const op errors.Op = "database.InTx"

	if err := x.acquire(ctx); err != nil {
		return errors.E(op, errors.ExecLocked, "timed out waiting for the database lock")
	}
	defer x.release()

	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapDriverError(op, err)
	}

	committed := false
	defer func() {
		if !committed {
			errors.IgnoreError(x.log, tx.Rollback(), "rollback after failed transaction")
		}
	}()

	if err := fn(&Tx{tx: tx, x: x}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapDriverError(op, err)
	}
	committed = true
	return nil
}

// Tx is a transaction opened by InTx. It applies the same checks as the
// Executor without taking the lock again.
type Tx struct {
	tx *sqlx.Tx
	x  *Executor
}

// Execute is Executor.Execute inside the transaction.
func (t *Tx) Execute(ctx context.Context, stmt Statement, params Params, allowDDL bool) (*ResultSet, error) {
	const op errors.Op = "database.Tx.Execute"
	start := t.x.now()

	args, err := t.x.admit(op, stmt, params, allowDDL)
	if err != nil {
		t.x.audit(stmt, start, 0, err)
		return nil, err
	}
	rs, err := run(ctx, op, t.tx, stmt, args)
	t.x.audit(stmt, start, rowCount(rs), err)
	return rs, err
}

// Write is Executor.Write inside the transaction.
func (t *Tx) Write(ctx context.Context, query string, args ...any) (WriteResult, error) {
	const op errors.Op = "database.Tx.Write"
	start := t.x.now()

	stmt := classifyWrite(query)
	bound, err := t.x.admit(op, stmt, args, false)
	if err != nil {
		t.x.audit(stmt, start, 0, err)
		return WriteResult{}, err
	}
	res, err := write(ctx, op, t.tx, stmt, bound)
	t.x.audit(stmt, start, int(res.RowsAffected), err)
	return res, err
}

// admit applies every check that does not need the database.
func (x *Executor) admit(op errors.Op, stmt Statement, params Params, allowDDL bool) ([]any, error) {
	if stmt.category == Rejected {
		reason := stmt.reason
		if reason == "" {
			reason = ReasonUnknownStatement
		}
		return nil, errors.Rejected(op, reason)
	}
	if stmt.category.IsDDL() && !allowDDL {
		perr := &DDLNotPermittedError{Category: stmt.category, Identifiers: identifierNames(stmt.identifiers)}
		x.log.Error().
			Str("category", stmt.category.String()).
			Strs("identifiers", perr.Identifiers).
			Msg("DDL executed without allowDDL")
		panic(perr)
	}
	if len(params) != stmt.placeholders {
		return nil, errors.E(op, errors.KindValidation,
			fmt.Sprintf("statement has %d placeholders but %d parameters were given", stmt.placeholders, len(params)))
	}
	return bindParams(op, params)
}

func (x *Executor) acquire(ctx context.Context) error {
	start := x.now()
	select {
	case x.sem <- struct{}{}:
		metrics.RecordLockWait(x.now().Sub(start))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (x *Executor) release() { <-x.sem }

// run executes on either the database or a transaction.
func run(ctx context.Context, op errors.Op, q sqlx.ExtContext, stmt Statement, args []any) (*ResultSet, error) {
	if stmt.category.IsDDL() {
		if _, err := q.ExecContext(ctx, stmt.text); err != nil {
			return nil, mapDriverError(op, err)
		}
		return &ResultSet{Columns: []string{}, Rows: [][]Value{}}, nil
	}

	rows, err := q.QueryContext(ctx, stmt.text, args...)
	if err != nil {
		return nil, mapDriverError(op, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, mapDriverError(op, err)
	}
	rs := &ResultSet{Columns: cols, Rows: [][]Value{}}

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, mapDriverError(op, err)
		}
		row := make([]Value, len(cols))
		for i, v := range raw {
			row[i] = valueOf(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDriverError(op, err)
	}
	rs.RowCount = len(rs.Rows)
	return rs, nil
}

func write(ctx context.Context, op errors.Op, q sqlx.ExtContext, stmt Statement, args []any) (WriteResult, error) {
	res, err := q.ExecContext(ctx, stmt.text, args...)
	if err != nil {
		return WriteResult{}, mapDriverError(op, err)
	}
	var out WriteResult
	out.RowsAffected, _ = res.RowsAffected()
	out.LastInsertID, _ = res.LastInsertId()
	return out, nil
}

// bindParams normalizes parameter values to the types the driver binds.
func bindParams(op errors.Op, params Params) ([]any, error) {
	args := make([]any, len(params))
	for i, p := range params {
		switch v := p.(type) {
		case nil, int64, float64, string, []byte, bool, time.Time:
			args[i] = v
		case int:
			args[i] = int64(v)
		case int8:
			args[i] = int64(v)
		case int16:
			args[i] = int64(v)
		case int32:
			args[i] = int64(v)
		case uint8:
			args[i] = int64(v)
		case uint16:
			args[i] = int64(v)
		case uint32:
			args[i] = int64(v)
		case float32:
			args[i] = float64(v)
		case Value:
			args[i] = v.Any()
		default:
			return nil, errors.E(op, errors.KindValidation, fmt.Sprintf("parameter %d has unsupported type %T", i+1, p))
		}
	}
	return args, nil
}

// mapDriverError converts a driver failure into an Execution error. The
// driver error itself is not wrapped; only a bounded copy of its text is kept.
func mapDriverError(op errors.Op, err error) error {
	kind := errors.ExecUnknown
	var se sqlite3.Error
	switch {
	case errors.As(err, &se):
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			kind = errors.ExecLocked
		case sqlite3.ErrConstraint:
			kind = errors.ExecConstraint
		case sqlite3.ErrError:
			kind = errors.ExecSyntax
		}
	case stderrors.Is(err, context.DeadlineExceeded):
		kind = errors.ExecLocked
	}
	return errors.E(op, kind, sanitizeMessage(err.Error()))
}

func sanitizeMessage(msg string) string {
	if len(msg) <= maxErrorMessage {
		return msg
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "..."
}

func (x *Executor) audit(stmt Statement, start time.Time, rows int, err error) {
	d := x.now().Sub(start)
	outcome := "ok"
	switch {
	case errors.IsKind(err, errors.KindRejectedStatement):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	metrics.RecordStatement(stmt.category.String(), outcome, d)

	ev := x.log.Info()
	if err != nil {
		ev = x.log.Warn().Str("error_kind", errorKind(err))
		if _, rule := errors.Details(err); rule != "" {
			ev = ev.Str("reason", rule)
		}
	}
	ev.Str("category", stmt.category.String()).
		Strs("identifiers", identifierNames(stmt.identifiers)).
		Str("outcome", outcome).
		Int("rows", rows).
		Dur("duration", d).
		Msg("statement")

	x.log.Debug().Str("sql", stmt.text).Msg("statement text")
}

func errorKind(err error) string {
	if errors.GetKind(err) == errors.KindExecution {
		return errors.GetExecKind(err).String()
	}
	return errors.GetKind(err).String()
}

func identifierNames(ids []Identifier) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.name
	}
	return names
}

func sliceLen(dest any) int {
	v := reflect.ValueOf(dest)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		return 0
	}
	return v.Len()
}

func rowCount(rs *ResultSet) int {
	if rs == nil {
		return 0
	}
	return rs.RowCount
}
