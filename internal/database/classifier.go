package database

import (
	"fmt"
	"strings"
)

// Category is the classification assigned to a statement.
type Category uint8

const (
	Rejected Category = iota
	ReadQuery
	DDLCreate
	DDLDrop
	PragmaRead

	// dmlWrite is only produced for internal row writes; Classify never
	// returns it.
	dmlWrite
)

func (c Category) String() string {
	switch c {
	case ReadQuery:
		return "READ_QUERY"
	case DDLCreate:
		return "DDL_CREATE"
	case DDLDrop:
		return "DDL_DROP"
	case PragmaRead:
		return "PRAGMA_READ"
	case dmlWrite:
		return "DML_WRITE"
	default:
		return "REJECTED"
	}
}

// IsDDL reports whether the category changes the schema.
func (c Category) IsDDL() bool { return c == DDLCreate || c == DDLDrop }

// IsRead reports whether the category may be run on the query path.
func (c Category) IsRead() bool { return c == ReadQuery || c == PragmaRead }

// Rejection reasons.
const (
	ReasonEmpty              = "empty statement"
	ReasonNulByte            = "NUL byte in statement"
	ReasonUnterminated       = "unterminated literal or quoted identifier"
	ReasonComment            = "comments not allowed"
	ReasonMultipleStatements = "multiple statements not allowed"
	ReasonNamedParameter     = "named or numbered parameters not allowed"
	ReasonUnknownStatement   = "cannot determine statement type"
	ReasonPragmaWrite        = "pragma assignment not allowed"
	ReasonPragmaNotAllowed   = "pragma not allowed"
	ReasonDDLParameters      = "parameters not allowed in DDL"
)

// readPragmas are the pragmas that only report state.
var readPragmas = map[string]bool{
	"table_info":       true,
	"table_xinfo":      true,
	"table_list":       true,
	"index_list":       true,
	"index_info":       true,
	"foreign_key_list": true,
	"schema_version":   true,
	"database_list":    true,
}

// Statement is SQL text together with its classification. Only Classify
// builds one, so a Statement's category always matches its text.
type Statement struct {
	text         string
	category     Category
	reason       string
	placeholders int
	identifiers  []Identifier
}

// Text returns the statement with surrounding whitespace and a single
// trailing semicolon removed.
func (s Statement) Text() string { return s.text }

// Category returns the assigned category.
func (s Statement) Category() Category { return s.category }

// Reason explains a REJECTED classification.
func (s Statement) Reason() string { return s.reason }

// Placeholders is the number of positional ? parameters.
func (s Statement) Placeholders() int { return s.placeholders }

// Identifiers returns the validated identifiers spliced into the text.
func (s Statement) Identifiers() []Identifier { return s.identifiers }

// Classify inspects sqlText and assigns it a category. ids names the
// validated identifiers the caller quoted into the text; they are carried
// for the audit log. Anything that cannot be confidently classified is
// REJECTED.
func Classify(sqlText string, ids ...Identifier) Statement {
	st := scanStatement(sqlText)
	st.identifiers = ids
	if st.reason != "" {
		return st
	}

	toks := tokenize(st.text)
	if len(toks) == 0 || !isWord(toks[0]) {
		return st.reject(ReasonUnknownStatement)
	}

	switch strings.ToUpper(toks[0]) {
	case "SELECT":
		st.category = ReadQuery
	case "PRAGMA":
		if reason := checkPragma(toks[1:]); reason != "" {
			return st.reject(reason)
		}
		st.category = PragmaRead
	case "CREATE":
		if len(toks) < 3 || !strings.EqualFold(toks[1], "TABLE") {
			return st.reject("only CREATE TABLE is allowed")
		}
		st.category = DDLCreate
	case "DROP":
		if reason := checkDropTable(toks[1:]); reason != "" {
			return st.reject(reason)
		}
		st.category = DDLDrop
	default:
		return st.reject(fmt.Sprintf("%s statements not allowed", strings.ToUpper(toks[0])))
	}

	if st.placeholders > 0 && st.category != ReadQuery {
		return st.reject(ReasonDDLParameters)
	}
	return st
}

// classifyWrite accepts a single INSERT, UPDATE, DELETE or REPLACE. It backs
// the internal row write path and is never applied to user SQL.
func classifyWrite(sqlText string) Statement {
	st := scanStatement(sqlText)
	if st.reason != "" {
		return st
	}
	toks := tokenize(st.text)
	if len(toks) == 0 {
		return st.reject(ReasonUnknownStatement)
	}
	switch strings.ToUpper(toks[0]) {
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		st.category = dmlWrite
		return st
	default:
		return st.reject(fmt.Sprintf("%s is not a row write", strings.ToUpper(toks[0])))
	}
}

func (s Statement) reject(reason string) Statement {
	s.category = Rejected
	s.reason = reason
	return s
}

// checkPragma accepts `name`, `name(arg)` and `schema.name(arg)` for
// allow-listed names.
func checkPragma(toks []string) string {
	for _, t := range toks {
		if t == "=" {
			return ReasonPragmaWrite
		}
	}
	if len(toks) >= 3 && toks[1] == "." {
		if !isWord(toks[0]) {
			return ReasonPragmaNotAllowed
		}
		toks = toks[2:]
	}
	if len(toks) == 0 || !isWord(toks[0]) || !readPragmas[strings.ToLower(toks[0])] {
		return ReasonPragmaNotAllowed
	}
	switch rest := toks[1:]; {
	case len(rest) == 0:
		return ""
	case len(rest) == 3 && rest[0] == "(" && rest[2] == ")" && isOperand(rest[1]):
		return ""
	default:
		return ReasonPragmaNotAllowed
	}
}

// checkDropTable accepts `TABLE [IF EXISTS] [schema.]name`.
func checkDropTable(toks []string) string {
	const reason = "only DROP TABLE is allowed"
	if len(toks) == 0 || !strings.EqualFold(toks[0], "TABLE") {
		return reason
	}
	toks = toks[1:]
	if len(toks) >= 2 && strings.EqualFold(toks[0], "IF") && strings.EqualFold(toks[1], "EXISTS") {
		toks = toks[2:]
	}
	if len(toks) == 3 && toks[1] == "." {
		toks = toks[2:]
	}
	if len(toks) != 1 || !isOperand(toks[0]) {
		return reason
	}
	return ""
}

// scanStatement walks the text outside literals, rejecting comments,
// extra statements and non-positional parameters, and counts ? placeholders.
func scanStatement(text string) Statement {
	st := Statement{text: strings.TrimSpace(text)}
	if st.text == "" {
		return st.reject(ReasonEmpty)
	}
	if strings.IndexByte(text, 0) >= 0 {
		return st.reject(ReasonNulByte)
	}

	lx := lexer{src: st.text}
	end := len(st.text)
	for lx.i < len(lx.src) {
		c := lx.src[lx.i]
		switch {
		case c == '\'' || c == '"' || c == '`' || c == '[':
			if !lx.consumeQuoted() {
				return st.reject(ReasonUnterminated)
			}
			continue
		case c == '-' && lx.peek(1) == '-', c == '/' && lx.peek(1) == '*':
			return st.reject(ReasonComment)
		case c == ';':
			if strings.TrimSpace(lx.src[lx.i+1:]) != "" {
				return st.reject(ReasonMultipleStatements)
			}
			end = lx.i
			lx.i = len(lx.src)
			continue
		case c == '?':
			if isDigit(lx.peek(1)) {
				return st.reject(ReasonNamedParameter)
			}
			st.placeholders++
		case c == ':' || c == '@' || c == '$':
			if n := lx.peek(1); isWordByte(n) {
				return st.reject(ReasonNamedParameter)
			}
		}
		lx.i++
	}

	st.text = strings.TrimSpace(st.text[:end])
	if st.text == "" {
		return st.reject(ReasonEmpty)
	}
	return st
}

type lexer struct {
	src string
	i   int
}

func (lx *lexer) peek(k int) byte {
	if lx.i+k < len(lx.src) {
		return lx.src[lx.i+k]
	}
	return 0
}

// consumeQuoted advances past a quoted literal or identifier starting at
// lx.i. A doubled closing quote is an escape, except inside brackets.
func (lx *lexer) consumeQuoted() bool {
	open := lx.src[lx.i]
	closer := open
	if open == '[' {
		closer = ']'
	}
	lx.i++
	for lx.i < len(lx.src) {
		c := lx.src[lx.i]
		lx.i++
		if c != closer {
			continue
		}
		if open != '[' && lx.i < len(lx.src) && lx.src[lx.i] == closer {
			lx.i++
			continue
		}
		return true
	}
	return false
}

// tokenize splits already-scanned text into words, numbers, quoted tokens
// and single punctuation characters.
func tokenize(text string) []string {
	var toks []string
	lx := lexer{src: text}
	for lx.i < len(lx.src) {
		c := lx.src[lx.i]
		start := lx.i
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			lx.i++
			continue
		case c == '\'' || c == '"' || c == '`' || c == '[':
			if !lx.consumeQuoted() {
				lx.i = len(lx.src)
			}
		case isWordByte(c):
			for lx.i < len(lx.src) && isWordByte(lx.src[lx.i]) {
				lx.i++
			}
		default:
			lx.i++
		}
		toks = append(toks, lx.src[start:lx.i])
	}
	return toks
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isWordByte(b byte) bool {
	return b == '_' || isDigit(b) || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80
}

// isWord reports whether tok is a bare keyword or name starting with a letter.
func isWord(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isOperand(tok string) bool {
	if tok == "" {
		return false
	}
	switch tok[0] {
	case '\'', '"', '`', '[':
		return true
	}
	return isWordByte(tok[0])
}
