// Package history records every question asked and the SQL it produced,
// and makes past entries searchable.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/errors"
)

// TableName is the bookkeeping table holding history rows.
const TableName = "query_history"

const defaultLimit = 20

var table = database.MustIdentifier(TableName, database.TableIdent)

const columns = `"id", "question", "sql_text", "row_count", "execution_time_ms", "error", "created_at"`

// Entry is one recorded query.
type Entry struct {
	ID              int64     `db:"id" json:"id"`
	Question        string    `db:"question" json:"question"`
	SQL             string    `db:"sql_text" json:"sql"`
	RowCount        int       `db:"row_count" json:"row_count"`
	ExecutionTimeMs float64   `db:"execution_time_ms" json:"execution_time_ms"`
	Error           string    `db:"error" json:"error,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Store keeps history rows in SQLite and mirrors them into the index.
type Store struct {
	x   *database.Executor
	idx *Index
	log zerolog.Logger
	now func() time.Time
}

// Open creates the history table if needed and opens the index at
// indexPath (in memory when empty). An empty index is rebuilt from the
// table.
func Open(ctx context.Context, x *database.Executor, indexPath string, log zerolog.Logger) (*Store, error) {
	const op errors.Op = "history.Open"

	ddl := database.Classify(`CREATE TABLE IF NOT EXISTS `+database.Quote(table)+` (
		"id" INTEGER PRIMARY KEY AUTOINCREMENT,
		"question" TEXT NOT NULL DEFAULT '',
		"sql_text" TEXT NOT NULL DEFAULT '',
		"row_count" INTEGER NOT NULL DEFAULT 0,
		"execution_time_ms" REAL NOT NULL DEFAULT 0,
		"error" TEXT NOT NULL DEFAULT '',
		"created_at" TIMESTAMP NOT NULL
	)`, table)
	if _, err := x.Execute(ctx, ddl, nil, true); err != nil {
		return nil, errors.WrapMsg(op, "failed to create history table", err)
	}

	idx, err := OpenIndex(indexPath)
	if err != nil {
		return nil, errors.E(op, errors.KindIO, err)
	}

	s := &Store{
		x:   x,
		idx: idx,
		log: log.With().Str("component", "history").Logger(),
		now: time.Now,
	}
	if err := s.rebuild(ctx); err != nil {
		idx.Close()
		return nil, errors.Wrap(op, err)
	}
	return s, nil
}

func (s *Store) rebuild(ctx context.Context) error {
	n, err := s.idx.DocCount()
	if err != nil {
		return errors.E(errors.KindIO, err, "failed to read index size")
	}
	if n > 0 {
		return nil
	}

	var all []Entry
	if err := s.x.Select(ctx, &all, `SELECT `+columns+` FROM `+database.Quote(table)); err != nil {
		return err
	}
	if len(all) == 0 {
		return nil
	}
	if err := s.idx.AddBatch(all); err != nil {
		return errors.E(errors.KindIO, err, "failed to rebuild history index")
	}
	s.log.Info().Int("entries", len(all)).Msg("rebuilt history index")
	return nil
}

// Close closes the index.
func (s *Store) Close() error {
	return s.idx.Close()
}

// Record stores e and returns it with its id and timestamp set.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	const op errors.Op = "history.Record"

	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	res, err := s.x.Write(ctx,
		`INSERT INTO `+database.Quote(table)+` ("question", "sql_text", "row_count", "execution_time_ms", "error", "created_at") VALUES (?, ?, ?, ?, ?, ?)`,
		e.Question, e.SQL, e.RowCount, e.ExecutionTimeMs, e.Error, e.CreatedAt)
	if err != nil {
		return Entry{}, errors.Wrap(op, err)
	}
	e.ID = res.LastInsertID

	if err := s.idx.Add(e); err != nil {
		errors.LogAndContinue(s.log, "indexing history entry", err)
	}
	return e, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	entries := []Entry{}
	err := s.x.Select(ctx, &entries,
		`SELECT `+columns+` FROM `+database.Quote(table)+` ORDER BY "id" DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, errors.Wrap("history.List", err)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	rs, err := s.x.Query(ctx, `SELECT COUNT(*) FROM `+database.Quote(table))
	if err != nil {
		return 0, errors.Wrap("history.Count", err)
	}
	return int(rs.Rows[0][0].Int), nil
}

// Get returns one entry or a NotFound error.
func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	const op errors.Op = "history.Get"

	var found []Entry
	if err := s.x.Select(ctx, &found, `SELECT `+columns+` FROM `+database.Quote(table)+` WHERE "id" = ?`, id); err != nil {
		return Entry{}, errors.Wrap(op, err)
	}
	if len(found) == 0 {
		return Entry{}, errors.E(op, errors.KindNotFound, "history entry not found")
	}
	return found[0], nil
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, id int64) error {
	const op errors.Op = "history.Delete"

	res, err := s.x.Write(ctx, `DELETE FROM `+database.Quote(table)+` WHERE "id" = ?`, id)
	if err != nil {
		return errors.Wrap(op, err)
	}
	if res.RowsAffected == 0 {
		return errors.E(op, errors.KindNotFound, "history entry not found")
	}
	if err := s.idx.Delete(id); err != nil {
		errors.LogAndContinue(s.log, "removing history entry from index", err)
	}
	return nil
}

// Clear removes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	const op errors.Op = "history.Clear"

	var ids []int64
	err := s.x.InTx(ctx, func(tx *database.Tx) error {
		rs, err := tx.Execute(ctx, database.Classify(`SELECT "id" FROM `+database.Quote(table)), nil, false)
		if err != nil {
			return err
		}
		for _, row := range rs.Rows {
			ids = append(ids, row[0].Int)
		}
		_, err = tx.Write(ctx, `DELETE FROM `+database.Quote(table))
		return err
	})
	if err != nil {
		return 0, errors.Wrap(op, err)
	}
	if len(ids) > 0 {
		if err := s.idx.Delete(ids...); err != nil {
			errors.LogAndContinue(s.log, "clearing history index", err)
		}
	}
	s.log.Info().Int("entries", len(ids)).Msg("history cleared")
	return len(ids), nil
}

// Search finds entries whose question, SQL or error mention text.
func (s *Store) Search(ctx context.Context, text string, limit int) ([]Entry, error) {
	const op errors.Op = "history.Search"

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.E(op, errors.KindValidation, "search text is empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	ids, err := s.idx.Search(text, limit)
	if err != nil {
		return nil, errors.E(op, errors.KindIO, err, "history search failed")
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	var rows []Entry
	if err := s.x.Select(ctx, &rows,
		`SELECT `+columns+` FROM `+database.Quote(table)+` WHERE "id" IN (`+placeholders+`)`, args...); err != nil {
		return nil, errors.Wrap(op, err)
	}

	byID := make(map[int64]Entry, len(rows))
	for _, e := range rows {
		byID[e.ID] = e
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}
