package ingest

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/nlsql/nlsql/internal/database"
)

// SanitizeTableName derives a table name from an uploaded filename. The
// result always passes database.ValidateIdentifier as a TABLE.
func SanitizeTableName(filename string) string {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}

	s := normalize(strings.ToLower(name))
	if s == "" {
		s = "table"
	}
	if database.IsReservedWord(s) || strings.HasPrefix(s, "sqlite_") {
		s = "t_" + s
	}
	s = clip(s, database.MaxIdentifierLength)

	if _, err := database.ValidateIdentifier(s, database.TableIdent); err != nil {
		h := fnv.New32a()
		h.Write([]byte(filename))
		s = fmt.Sprintf("table_%d", h.Sum32()%100000)
	}
	return s
}

// SanitizeColumnNames turns raw headers into distinct valid column names.
// Names are compared case-insensitively, as SQLite does.
func SanitizeColumnNames(headers []string) []string {
	out := make([]string, len(headers))
	used := make(map[string]bool, len(headers))

	for i, h := range headers {
		s := normalize(strings.ToLower(strings.TrimSpace(h)))
		switch {
		case s == "" || strings.Trim(s, "_") == "":
			s = fmt.Sprintf("column_%d", i+1)
		case database.IsReservedWord(s):
			s += "_"
		}
		s = clip(s, database.MaxIdentifierLength)

		base := s
		for n := 2; used[s]; n++ {
			suffix := fmt.Sprintf("_%d", n)
			s = clip(base, database.MaxIdentifierLength-len(suffix)) + suffix
		}
		if _, err := database.ValidateIdentifier(s, database.ColumnIdent); err != nil {
			s = fmt.Sprintf("column_%d", i+1)
			for n := 2; used[s]; n++ {
				s = fmt.Sprintf("column_%d_%d", i+1, n)
			}
		}
		used[s] = true
		out[i] = s
	}
	return out
}

// normalize maps every character outside [a-z0-9_] to '_' and makes sure
// the result does not start with a digit.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
