package testutil

import (
	"context"
	"sync"

	"github.com/nlsql/nlsql/internal/llm"
)

// MockGenerator is an llm.Generator returning canned SQL.
type MockGenerator struct {
	mu sync.Mutex

	SQL string
	Err error

	// SQLFunc overrides SQL when set.
	SQLFunc func(question string, tables []llm.TableInfo) (string, error)

	Questions []string
	Tables    [][]llm.TableInfo
}

// GenerateSQL records the call and returns the configured answer.
func (m *MockGenerator) GenerateSQL(ctx context.Context, question string, tables []llm.TableInfo) (string, error) {
	m.mu.Lock()
	m.Questions = append(m.Questions, question)
	m.Tables = append(m.Tables, tables)
	m.mu.Unlock()

	if m.SQLFunc != nil {
		return m.SQLFunc(question, tables)
	}
	return m.SQL, m.Err
}

// Calls returns how many times GenerateSQL ran.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Questions)
}
