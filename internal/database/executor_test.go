package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nlsql/nlsql/internal/errors"
)

// createEmployees builds the employees fixture table.
func createEmployees(t *testing.T, x *Executor) {
	t.Helper()
	ctx := context.Background()
	table := MustIdentifier("employees", TableIdent)

	ddl := Classify(`CREATE TABLE `+Quote(table)+` ("id" INTEGER PRIMARY KEY, "name" TEXT NOT NULL, "age" INTEGER, "salary" REAL, "photo" BLOB)`, table)
	if _, err := x.Execute(ctx, ddl, nil, true); err != nil {
		t.Fatalf("create employees: %v", err)
	}

	rows := []struct {
		name   string
		age    int
		salary float64
	}{
		{"Alice", 34, 5200.5},
		{"Bob", 25, 4100},
		{"Carol", 41, 6100.25},
		{"Dave", 30, 4500},
	}
	for _, r := range rows {
		if _, err := x.Write(ctx, `INSERT INTO "employees" ("name", "age", "salary") VALUES (?, ?, ?)`, r.name, r.age, r.salary); err != nil {
			t.Fatalf("insert %s: %v", r.name, err)
		}
	}
}

// expectDDLPanic runs fn and fails unless it panics with *DDLNotPermittedError.
func expectDDLPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected DDLNotPermittedError panic")
		}
		if _, ok := r.(*DDLNotPermittedError); !ok {
			t.Fatalf("panic value = %T, want *DDLNotPermittedError", r)
		}
	}()
	fn()
}

func TestExecuteReadWithParameters(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	createEmployees(t, x)

	rs, err := x.Execute(context.Background(),
		Classify("SELECT name, age FROM employees WHERE age > ? ORDER BY age"), Params{30}, false)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(rs.Columns) != 2 || rs.Columns[0] != "name" || rs.Columns[1] != "age" {
		t.Errorf("Columns = %v", rs.Columns)
	}
	if rs.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", rs.RowCount)
	}
	for _, rec := range rs.Records() {
		if rec["age"].Type != IntegerValue || rec["age"].Int <= 30 {
			t.Errorf("row %v does not satisfy age > 30", rec)
		}
	}
	if rs.Rows[0][0].Text != "Alice" || rs.Rows[1][0].Text != "Carol" {
		t.Errorf("unexpected rows: %v", rs.Rows)
	}

	all, err := x.Query(context.Background(), "SELECT COUNT(*) FROM employees")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if all.Rows[0][0].Int != 4 {
		t.Errorf("employees table was modified: %d rows", all.Rows[0][0].Int)
	}
}

func TestExecuteValueTypes(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	createEmployees(t, x)

	ctx := context.Background()
	if _, err := x.Write(ctx, `UPDATE "employees" SET "photo" = ? WHERE "name" = ?`, []byte{0x89, 'P'}, "Alice"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	rs, err := x.Query(ctx, `SELECT "id", "name", "salary", "photo", NULL AS nothing FROM "employees" WHERE "name" = ?`, "Alice")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	row := rs.Rows[0]
	want := []ValueType{IntegerValue, TextValue, FloatValue, BlobValue, NullValue}
	for i, vt := range want {
		if row[i].Type != vt {
			t.Errorf("column %s type = %s, want %s", rs.Columns[i], row[i].Type, vt)
		}
	}
	if string(row[3].Blob) != "\x89P" {
		t.Errorf("blob = %v", row[3].Blob)
	}
}

func TestExecuteRejectsStackedStatements(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	createEmployees(t, x)

	stmt := Classify("SELECT * FROM employees; DROP TABLE employees; --")
	if stmt.Category() != Rejected {
		t.Fatalf("expected REJECTED, got %s", stmt.Category())
	}
	_, err := x.Execute(context.Background(), stmt, nil, true)
	if !errors.IsKind(err, errors.KindRejectedStatement) {
		t.Fatalf("expected RejectedStatement, got %v", err)
	}

	schema, err := x.GetSchema(context.Background())
	if err != nil {
		t.Fatalf("GetSchema failed: %v", err)
	}
	if _, ok := schema["employees"]; !ok {
		t.Error("employees table was dropped")
	}
}

func TestExecuteZeroStatementRejected(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()

	_, err := x.Execute(context.Background(), Statement{}, nil, true)
	if !errors.IsKind(err, errors.KindRejectedStatement) {
		t.Fatalf("expected RejectedStatement for zero Statement, got %v", err)
	}
}

func TestExecuteDDLRequiresAllowDDL(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	createEmployees(t, x)
	ctx := context.Background()

	table := MustIdentifier("employees", TableIdent)
	expectDDLPanic(t, func() {
		x.Execute(ctx, Classify("DROP TABLE "+Quote(table), table), nil, false)
	})
	expectDDLPanic(t, func() {
		x.Execute(ctx, Classify(`CREATE TABLE "other" (a TEXT)`), nil, false)
	})

	// The lock was not taken and the table still exists.
	rs, err := x.Query(ctx, "SELECT COUNT(*) FROM employees")
	if err != nil {
		t.Fatalf("employees should still exist: %v", err)
	}
	if rs.Rows[0][0].Int != 4 {
		t.Errorf("row count = %d", rs.Rows[0][0].Int)
	}
}

func TestExecuteParameterMismatch(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	createEmployees(t, x)

	_, err := x.Execute(context.Background(), Classify("SELECT * FROM employees WHERE age > ?"), nil, false)
	if !errors.IsKind(err, errors.KindValidation) {
		t.Errorf("expected validation error for missing parameter, got %v", err)
	}

	_, err = x.Execute(context.Background(), Classify("SELECT * FROM employees WHERE age > ?"), Params{struct{}{}}, false)
	if !errors.IsKind(err, errors.KindValidation) {
		t.Errorf("expected validation error for unsupported type, got %v", err)
	}
}

func TestExecuteErrorKinds(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	createEmployees(t, x)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want errors.ExecKind
	}{
		{"missing table", func() error {
			_, err := x.Query(ctx, "SELECT * FROM nowhere")
			return err
		}, errors.ExecSyntax},
		{"bad syntax", func() error {
			_, err := x.Query(ctx, "SELECT FROM WHERE")
			return err
		}, errors.ExecSyntax},
		{"not null constraint", func() error {
			_, err := x.Write(ctx, `INSERT INTO "employees" ("name") VALUES (?)`, nil)
			return err
		}, errors.ExecConstraint},
		{"duplicate table", func() error {
			id := MustIdentifier("employees", TableIdent)
			_, err := x.Execute(ctx, Classify("CREATE TABLE "+Quote(id)+" (a)", id), nil, true)
			return err
		}, errors.ExecSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.IsKind(err, errors.KindExecution) {
				t.Fatalf("expected execution error, got %v", err)
			}
			if got := errors.GetExecKind(err); got != tt.want {
				t.Errorf("ExecKind = %s, want %s (%v)", got, tt.want, err)
			}
		})
	}
}

func TestExecuteLockTimeout(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()

	hold := make(chan struct{})
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		x.InTx(context.Background(), func(*Tx) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := x.Query(ctx, "SELECT 1")
	close(hold)
	<-done

	if errors.GetExecKind(err) != errors.ExecLocked {
		t.Fatalf("expected LOCKED while another call holds the lock, got %v", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("LOCKED should be retryable")
	}
}

func TestWriteRejectsNonWrites(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()

	for _, q := range []string{"SELECT 1", "DROP TABLE x", "DELETE FROM x; DROP TABLE y"} {
		if _, err := x.Write(context.Background(), q); !errors.IsKind(err, errors.KindRejectedStatement) {
			t.Errorf("Write(%q) error = %v, want RejectedStatement", q, err)
		}
	}
}

func TestInTxRollsBack(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	createEmployees(t, x)
	ctx := context.Background()

	boom := fmt.Errorf("boom")
	err := x.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.Write(ctx, `DELETE FROM "employees"`); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("InTx error = %v, want boom", err)
	}

	rs, err := x.Query(ctx, "SELECT COUNT(*) FROM employees")
	if err != nil {
		t.Fatal(err)
	}
	if rs.Rows[0][0].Int != 4 {
		t.Errorf("delete was not rolled back: %d rows", rs.Rows[0][0].Int)
	}
}

func TestInTxDDLAndRead(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	ctx := context.Background()

	table := MustIdentifier("scores", TableIdent)
	err := x.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.Execute(ctx, Classify("CREATE TABLE "+Quote(table)+` ("v" INTEGER)`, table), nil, true); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			if _, err := tx.Write(ctx, `INSERT INTO "scores" ("v") VALUES (?)`, i); err != nil {
				return err
			}
		}
		rs, err := tx.Execute(ctx, Classify(`SELECT SUM("v") FROM "scores"`), nil, false)
		if err != nil {
			return err
		}
		if rs.Rows[0][0].Int != 3 {
			return fmt.Errorf("sum = %d", rs.Rows[0][0].Int)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx failed: %v", err)
	}
}

func TestConcurrentCreateTable(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			table := MustIdentifier(fmt.Sprintf("upload_%d", i), TableIdent)
			errs <- x.InTx(ctx, func(tx *Tx) error {
				ddl := Classify("CREATE TABLE "+Quote(table)+` ("n" INTEGER)`, table)
				if _, err := tx.Execute(ctx, ddl, nil, true); err != nil {
					return err
				}
				for r := 0; r <= i; r++ {
					if _, err := tx.Write(ctx, "INSERT INTO "+Quote(table)+` ("n") VALUES (?)`, r); err != nil {
						return err
					}
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upload failed: %v", err)
		}
	}

	schema, err := x.GetSchema(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(schema) != n {
		t.Fatalf("got %d tables, want %d", len(schema), n)
	}
	for i := 0; i < n; i++ {
		table := MustIdentifier(fmt.Sprintf("upload_%d", i), TableIdent)
		rs, err := x.Query(ctx, "SELECT COUNT(*) FROM "+Quote(table))
		if err != nil {
			t.Fatal(err)
		}
		if rs.Rows[0][0].Int != int64(i+1) {
			t.Errorf("%s has %d rows, want %d", table, rs.Rows[0][0].Int, i+1)
		}
	}
}

func TestSanitizeMessage(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	if got := sanitizeMessage(string(long)); len(got) != maxErrorMessage+3 {
		t.Errorf("len = %d", len(got))
	}
	if got := sanitizeMessage("short"); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestSelectScansStructs(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	createEmployees(t, x)

	var got []struct {
		Name   string  `db:"name"`
		Age    int     `db:"age"`
		Salary float64 `db:"salary"`
	}
	err := x.Select(context.Background(), &got, `SELECT "name", "age", "salary" FROM "employees" WHERE "age" < ? ORDER BY "age"`, 35)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 3 || got[0].Name != "Bob" || got[2].Salary != 5200.5 {
		t.Errorf("unexpected rows %+v", got)
	}
}

func TestSelectRefusesNonReads(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()

	var dest []struct{}
	for _, q := range []string{"DROP TABLE employees", "CREATE TABLE t (a)", "SELECT 1; SELECT 2", "DELETE FROM t"} {
		if err := x.Select(context.Background(), &dest, q); !errors.IsKind(err, errors.KindRejectedStatement) {
			t.Errorf("Select(%q) error = %v, want RejectedStatement", q, err)
		}
	}
}
