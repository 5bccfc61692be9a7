package database

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nlsql/nlsql/internal/errors"
)

// IdentifierKind says where a validated name will be used.
type IdentifierKind uint8

const (
	TableIdent IdentifierKind = iota + 1
	ColumnIdent
	FolderIdent
)

func (k IdentifierKind) String() string {
	switch k {
	case TableIdent:
		return "TABLE"
	case ColumnIdent:
		return "COLUMN"
	case FolderIdent:
		return "FOLDER"
	default:
		return "INVALID"
	}
}

// MaxIdentifierLength bounds every identifier kind, in characters.
const MaxIdentifierLength = 64

// Validation rule names reported in InvalidIdentifier errors.
const (
	RuleEmpty             = "empty"
	RuleTooLong           = "too_long"
	RuleInvalidCharacters = "invalid_characters"
	RuleReservedWord      = "reserved_word"
	RuleReservedPrefix    = "reserved_prefix"
	RuleInvalidKind       = "invalid_kind"
)

// Identifier is a name that passed ValidateIdentifier. The zero value is
// not a valid identifier and cannot be quoted.
type Identifier struct {
	name string
	kind IdentifierKind
}

// String returns the raw, unquoted name.
func (id Identifier) String() string { return id.name }

// Kind returns the kind the identifier was validated as.
func (id Identifier) Kind() IdentifierKind { return id.kind }

// IsZero reports whether id was not produced by the validator.
func (id Identifier) IsZero() bool { return id.kind == 0 }

var (
	// validIdentifierPattern matches SQL identifiers (alphanumeric and underscore).
	validIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// validFolderPattern allows inner spaces and hyphens; no leading or
	// trailing separator.
	validFolderPattern = regexp.MustCompile(`^[A-Za-z0-9_](?:[A-Za-z0-9_ -]*[A-Za-z0-9_])?$`)
)

// ValidateIdentifier decides whether candidate is safe to use as a name of
// the given kind. It is a pure function of its inputs.
//
// Folder names are display strings that are only ever bound as parameters,
// so they skip the reserved word check ("default" is a valid folder).
func ValidateIdentifier(candidate string, kind IdentifierKind) (Identifier, error) {
	const op errors.Op = "database.ValidateIdentifier"

	if kind < TableIdent || kind > FolderIdent {
		return Identifier{}, errors.InvalidIdentifier(op, candidate, RuleInvalidKind)
	}
	if candidate == "" {
		return Identifier{}, errors.InvalidIdentifier(op, candidate, RuleEmpty)
	}
	if utf8.RuneCountInString(candidate) > MaxIdentifierLength {
		return Identifier{}, errors.InvalidIdentifier(op, truncate(candidate, MaxIdentifierLength), RuleTooLong)
	}

	if kind == FolderIdent {
		if !validFolderPattern.MatchString(candidate) || strings.Contains(candidate, "--") {
			return Identifier{}, errors.InvalidIdentifier(op, candidate, RuleInvalidCharacters)
		}
		return Identifier{name: candidate, kind: kind}, nil
	}

	if !validIdentifierPattern.MatchString(candidate) {
		return Identifier{}, errors.InvalidIdentifier(op, candidate, RuleInvalidCharacters)
	}
	if IsReservedWord(candidate) {
		return Identifier{}, errors.InvalidIdentifier(op, candidate, RuleReservedWord)
	}
	if kind == TableIdent && strings.HasPrefix(strings.ToLower(candidate), "sqlite_") {
		return Identifier{}, errors.InvalidIdentifier(op, candidate, RuleReservedPrefix)
	}
	return Identifier{name: candidate, kind: kind}, nil
}

// MustIdentifier returns the identifier if valid, panics otherwise.
// Use this only for hardcoded names that are known to be valid.
func MustIdentifier(name string, kind IdentifierKind) Identifier {
	id, err := ValidateIdentifier(name, kind)
	if err != nil {
		panic(fmt.Sprintf("invalid %s name in code: %s", kind, name))
	}
	return id
}

// Quote renders id as a double-quoted SQL identifier with embedded quotes
// doubled. Quoting an unvalidated Identifier is a programming error.
func Quote(id Identifier) string {
	if id.IsZero() {
		panic("database.Quote: identifier was not produced by ValidateIdentifier")
	}
	return `"` + strings.ReplaceAll(id.name, `"`, `""`) + `"`
}

// QuoteAll quotes each identifier and joins them with ", ".
func QuoteAll(ids ...Identifier) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = Quote(id)
	}
	return strings.Join(quoted, ", ")
}

// IsReservedWord reports whether s is an SQLite keyword, ignoring case.
func IsReservedWord(s string) bool {
	_, ok := reservedWords[strings.ToUpper(s)]
	return ok
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// reservedWords is the SQLite keyword list (sqlite3_keyword_name).
var reservedWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		ABORT ACTION ADD AFTER ALL ALTER ALWAYS ANALYZE AND AS ASC ATTACH
		AUTOINCREMENT BEFORE BEGIN BETWEEN BY CASCADE CASE CAST CHECK COLLATE
		COLUMN COMMIT CONFLICT CONSTRAINT CREATE CROSS CURRENT CURRENT_DATE
		CURRENT_TIME CURRENT_TIMESTAMP DATABASE DEFAULT DEFERRABLE DEFERRED
		DELETE DESC DETACH DISTINCT DO DROP EACH ELSE END ESCAPE EXCEPT
		EXCLUDE EXCLUSIVE EXISTS EXPLAIN FAIL FILTER FIRST FOLLOWING FOR
		FOREIGN FROM FULL GENERATED GLOB GROUP GROUPS HAVING IF IGNORE
		IMMEDIATE IN INDEX INDEXED INITIALLY INNER INSERT INSTEAD INTERSECT
		INTO IS ISNULL JOIN KEY LAST LEFT LIKE LIMIT MATCH MATERIALIZED
		NATURAL NO NOT NOTHING NOTNULL NULL NULLS OF OFFSET ON OR ORDER
		OTHERS OUTER OVER PARTITION PLAN PRAGMA PRECEDING PRIMARY QUERY
		RAISE RANGE RECURSIVE REFERENCES REGEXP REINDEX RELEASE RENAME
		REPLACE RESTRICT RETURNING RIGHT ROLLBACK ROW ROWS SAVEPOINT SELECT
		SET TABLE TEMP TEMPORARY THEN TIES TO TRANSACTION TRIGGER UNBOUNDED
		UNION UNIQUE UPDATE USING VACUUM VALUES VIEW VIRTUAL WHEN WHERE
		WINDOW WITH WITHOUT
		ROWID OID _ROWID_ TRUE FALSE`) {
		reservedWords[w] = struct{}{}
	}
}
