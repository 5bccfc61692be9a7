package llm

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/config"
	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/errors"
)

type fakeChat struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeChat) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.got = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

var employees = []TableInfo{{
	Name: "employees",
	Columns: []database.Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "name", Type: "TEXT"},
		{Name: "age", Type: ""},
	},
	RowCount: 4,
}}

func TestCleanSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "SELECT 1", "SELECT 1"},
		{"trailing semicolon", "  SELECT 1;  ", "SELECT 1"},
		{"sql fence", "```sql\nSELECT * FROM t;\n```", "SELECT * FROM t"},
		{"bare fence", "```\nSELECT 1\n```", "SELECT 1"},
		{"sqlite fence", "```sqlite\nSELECT 2\n```", "SELECT 2"},
		{"inline fence", "```sql SELECT 3```", "SELECT 3"},
		{"prose before fence", "Here you go:\n```sql\nSELECT 4\n```\nEnjoy", "SELECT 4"},
		{"unclosed fence", "```sql\nSELECT 5", "SELECT 5"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanSQL(tt.in); got != tt.want {
				t.Errorf("CleanSQL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("how many employees are over 30?", employees)
	for _, want := range []string{
		"Table: employees",
		"  - id (INTEGER)",
		"  - age (ANY)",
		"Row count: 4",
		`"how many employees are over 30?"`,
		"single SELECT",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}

	if p := BuildPrompt("q", nil); !strings.Contains(p, "(no tables)") {
		t.Error("empty schema should be stated")
	}
}

func TestGenerateSQL(t *testing.T) {
	chat := &fakeChat{reply: "```sql\nSELECT COUNT(*) FROM employees WHERE age > 30;\n```"}
	g := NewWithModel(chat, "test-model", zerolog.Nop())

	sql, err := g.GenerateSQL(context.Background(), "how many over 30", employees)
	if err != nil {
		t.Fatalf("GenerateSQL failed: %v", err)
	}
	if sql != "SELECT COUNT(*) FROM employees WHERE age > 30" {
		t.Errorf("unexpected SQL %q", sql)
	}
	if len(chat.got) != 2 || chat.got[0].Role != schema.System || chat.got[1].Role != schema.User {
		t.Fatalf("unexpected messages %+v", chat.got)
	}
	if !strings.Contains(chat.got[1].Content, "Table: employees") {
		t.Error("user message should carry the schema")
	}
}

func TestGenerateSQLErrors(t *testing.T) {
	tests := []struct {
		name     string
		chat     *fakeChat
		question string
		kind     errors.Kind
	}{
		{"empty question", &fakeChat{reply: "SELECT 1"}, "  ", errors.KindValidation},
		{"model failure", &fakeChat{err: fmt.Errorf("connection refused")}, "q", errors.KindNetwork},
		{"empty reply", &fakeChat{reply: "```sql\n```"}, "q", errors.KindParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithModel(tt.chat, "m", zerolog.Nop())
			_, err := g.GenerateSQL(context.Background(), tt.question, employees)
			if !errors.IsKind(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
		})
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("NLSQL_TEST_MISSING_KEY", "")
	cfg := config.DefaultConfig().LLM
	cfg.APIKeyEnv = "NLSQL_TEST_MISSING_KEY"

	if _, err := New(context.Background(), cfg, zerolog.Nop()); !errors.IsKind(err, errors.KindConfig) {
		t.Errorf("expected config error without a key, got %v", err)
	}

	cfg.Provider = "bedrock"
	t.Setenv("NLSQL_TEST_MISSING_KEY", "sk-test")
	if _, err := New(context.Background(), cfg, zerolog.Nop()); !errors.IsKind(err, errors.KindConfig) {
		t.Errorf("expected config error for unknown provider, got %v", err)
	}
}

func TestNewWithKey(t *testing.T) {
	t.Setenv("NLSQL_TEST_KEY", "sk-test")
	cfg := config.DefaultConfig().LLM
	cfg.APIKeyEnv = "NLSQL_TEST_KEY"
	cfg.BaseURL = "http://127.0.0.1:1/v1"

	g, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(g.opts) == 0 {
		t.Error("expected model options from config")
	}
}
