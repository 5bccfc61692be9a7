package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/database"
)

// TestDB opens a database in a per-test directory, closed at cleanup.
func TestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestExecutor returns an executor over a fresh test database.
func TestExecutor(t *testing.T) *database.Executor {
	t.Helper()
	return database.NewExecutor(TestDB(t), zerolog.Nop())
}

// CreateEmployees creates and fills the employees table used across tests.
func CreateEmployees(t *testing.T, x *database.Executor) {
	t.Helper()
	ctx := context.Background()
	table := database.MustIdentifier("employees", database.TableIdent)

	err := x.InTx(ctx, func(tx *database.Tx) error {
		ddl := database.Classify(`CREATE TABLE `+database.Quote(table)+
			` ("id" INTEGER PRIMARY KEY, "name" TEXT NOT NULL, "department" TEXT, "age" INTEGER, "salary" REAL)`, table)
		if _, err := tx.Execute(ctx, ddl, nil, true); err != nil {
			return err
		}
		for _, e := range Employees {
			if _, err := tx.Write(ctx, `INSERT INTO "employees" ("name", "department", "age", "salary") VALUES (?, ?, ?, ?)`,
				e.Name, e.Department, e.Age, e.Salary); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to create employees: %v", err)
	}
}
