// Package llm turns natural-language questions into SQL with a chat model.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/config"
	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/metrics"
)

const systemPrompt = "You are a SQL expert. Convert natural language questions to SQLite queries."

// TableInfo describes one table for the prompt.
type TableInfo struct {
	Name     string            `json:"name"`
	Columns  []database.Column `json:"columns"`
	RowCount int64             `json:"row_count"`
}

// Generator produces SQL text for a question over the given tables.
type Generator interface {
	GenerateSQL(ctx context.Context, question string, tables []TableInfo) (string, error)
}

// ChatModel is the part of an eino chat model the generator needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// EinoGenerator generates SQL through an eino chat model.
type EinoGenerator struct {
	chat  ChatModel
	model string
	opts  []model.Option
	log   zerolog.Logger
}

// New builds a generator backed by an OpenAI-compatible endpoint.
func New(ctx context.Context, cfg config.LLMConfig, log zerolog.Logger) (*EinoGenerator, error) {
	const op errors.Op = "llm.New"

	if p := strings.ToLower(cfg.Provider); p != "" && p != "openai" {
		return nil, errors.E(op, errors.KindConfig, fmt.Sprintf("unsupported llm provider %q", cfg.Provider))
	}
	key := cfg.APIKey()
	if key == "" {
		return nil, errors.E(op, errors.KindConfig, fmt.Sprintf("no API key: set %s", cfg.APIKeyEnv))
	}

	mcfg := &openai.ChatModelConfig{
		APIKey:  key,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	chat, err := openai.NewChatModel(ctx, mcfg)
	if err != nil {
		return nil, errors.E(op, errors.KindConfig, err, "failed to create chat model")
	}

	g := NewWithModel(chat, cfg.Model, log)
	g.opts = []model.Option{model.WithTemperature(cfg.Temperature)}
	if cfg.MaxTokens > 0 {
		g.opts = append(g.opts, model.WithMaxTokens(cfg.MaxTokens))
	}
	return g, nil
}

// NewWithModel wraps an existing chat model.
func NewWithModel(chat ChatModel, modelName string, log zerolog.Logger) *EinoGenerator {
	return &EinoGenerator{
		chat:  chat,
		model: modelName,
		log:   log.With().Str("component", "llm").Logger(),
	}
}

// GenerateSQL asks the model for a single query answering question.
func (g *EinoGenerator) GenerateSQL(ctx context.Context, question string, tables []TableInfo) (string, error) {
	const op errors.Op = "llm.GenerateSQL"

	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.E(op, errors.KindValidation, "question is empty")
	}

	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(BuildPrompt(question, tables)),
	}

	start := time.Now()
	resp, err := g.chat.Generate(ctx, msgs, g.opts...)
	if err != nil {
		metrics.RecordLLMCall(g.model, "error")
		g.log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("chat model call failed")
		return "", errors.E(op, errors.KindNetwork, err, "failed to generate SQL")
	}

	sql := ""
	if resp != nil {
		sql = CleanSQL(resp.Content)
	}
	if sql == "" {
		metrics.RecordLLMCall(g.model, "empty")
		return "", errors.E(op, errors.KindParse, "model returned no SQL")
	}
	metrics.RecordLLMCall(g.model, "ok")
	g.log.Debug().Dur("duration", time.Since(start)).Str("sql", sql).Msg("generated SQL")
	return sql, nil
}

// BuildPrompt lists the tables and the rules the answer must follow.
func BuildPrompt(question string, tables []TableInfo) string {
	var b strings.Builder
	b.WriteString("Given the following database schema:\n\n")
	if len(tables) == 0 {
		b.WriteString("(no tables)\n\n")
	}
	for _, t := range tables {
		fmt.Fprintf(&b, "Table: %s\nColumns:\n", t.Name)
		for _, c := range t.Columns {
			typ := c.Type
			if typ == "" {
				typ = "ANY"
			}
			fmt.Fprintf(&b, "  - %s (%s)\n", c.Name, typ)
		}
		fmt.Fprintf(&b, "Row count: %d\n\n", t.RowCount)
	}

	fmt.Fprintf(&b, "Convert this natural language query to SQL: %q\n\n", question)
	b.WriteString(`Rules:
- Return ONLY the SQL query, no explanations
- Write a single SELECT statement in SQLite syntax
- Do not include comments or more than one statement
- Inline literal values instead of parameters
- Quote table and column names with double quotes when they need it
- Handle relative dates with SQLite date functions (e.g. "last week" = date('now', '-7 days'))
- If the query is ambiguous, make reasonable assumptions

SQL Query:`)
	return b.String()
}

// CleanSQL strips markdown fences, whitespace and one trailing semicolon.
func CleanSQL(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && isFenceLang(s[:nl]) {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(strings.TrimPrefix(s, "sqlite"), "sql")
		}
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

func isFenceLang(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sql", "sqlite":
		return true
	}
	return false
}
