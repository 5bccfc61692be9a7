package history

import (
	"fmt"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Index is the full-text index over past questions and their SQL.
type Index struct {
	index bleve.Index
	path  string
}

// entryDoc is the indexed form of an Entry.
type entryDoc struct {
	Question  string    `json:"question"`
	SQL       string    `json:"sql"`
	Error     string    `json:"error"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenIndex opens the index at path, creating it if needed. An empty path
// keeps the index in memory.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(historyMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, historyMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return &Index{index: idx, path: path}, nil
}

func historyMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = "standard"

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("question", textField())
	doc.AddFieldMappingsAt("sql", textField())
	doc.AddFieldMappingsAt("error", textField())

	status := bleve.NewTextFieldMapping()
	status.Analyzer = "keyword"
	status.Store = true
	status.IncludeInAll = false
	doc.AddFieldMappingsAt("status", status)

	created := bleve.NewDateTimeFieldMapping()
	created.Store = true
	created.IncludeInAll = false
	doc.AddFieldMappingsAt("created_at", created)

	im.DefaultMapping = doc
	return im
}

func textField() *mapping.FieldMapping {
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = "standard"
	fm.Store = true
	fm.IncludeInAll = true
	return fm
}

func docOf(e Entry) entryDoc {
	status := "ok"
	if e.Error != "" {
		status = "error"
	}
	return entryDoc{
		Question:  e.Question,
		SQL:       e.SQL,
		Error:     e.Error,
		Status:    status,
		CreatedAt: e.CreatedAt,
	}
}

func docID(id int64) string { return strconv.FormatInt(id, 10) }

// Add indexes one entry.
func (i *Index) Add(e Entry) error {
	return i.index.Index(docID(e.ID), docOf(e))
}

// AddBatch indexes entries in one batch.
func (i *Index) AddBatch(entries []Entry) error {
	batch := i.index.NewBatch()
	for _, e := range entries {
		if err := batch.Index(docID(e.ID), docOf(e)); err != nil {
			return fmt.Errorf("failed to add entry %d to batch: %w", e.ID, err)
		}
	}
	return i.index.Batch(batch)
}

// Delete removes entries from the index.
func (i *Index) Delete(ids ...int64) error {
	batch := i.index.NewBatch()
	for _, id := range ids {
		batch.Delete(docID(id))
	}
	return i.index.Batch(batch)
}

// Search returns the ids of matching entries, best match first. Input is
// matched as plain words, never parsed as query syntax.
func (i *Index) Search(text string, limit int) ([]int64, error) {
	q := bleve.NewMatchQuery(text)
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	res, err := i.index.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DocCount returns the number of indexed entries.
func (i *Index) DocCount() (uint64, error) {
	return i.index.DocCount()
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}
