package database

import (
	"context"
	"strings"
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// dangerousFragments are substrings that must never survive TABLE validation.
var dangerousFragments = []string{";", "--", "/*", "'", `"`, "`", " ", "\\", "\x00", "[", ")"}

func genDangerousCandidate() gopter.Gen {
	return gopter.CombineGens(
		gen.AlphaString(),
		gen.IntRange(0, len(dangerousFragments)-1),
		gen.AlphaString(),
	).Map(func(vals []interface{}) string {
		return vals[0].(string) + dangerousFragments[vals[1].(int)] + vals[2].(string)
	})
}

func genKeyword() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("select", "drop", "delete", "insert", "update", "union", "table", "from", "where", "pragma", "attach"),
		gen.SliceOfN(16, gen.Bool()),
	).Map(func(vals []interface{}) string {
		kw := []rune(vals[0].(string))
		upper := vals[1].([]bool)
		for i := range kw {
			if upper[i%len(upper)] {
				kw[i] = unicode.ToUpper(kw[i])
			}
		}
		return string(kw)
	})
}

func TestPropertyDangerousCandidatesRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("candidates with injection characters are never valid tables",
		prop.ForAll(
			func(candidate string) bool {
				_, err := ValidateIdentifier(candidate, TableIdent)
				return err != nil
			},
			genDangerousCandidate(),
		))

	properties.Property("keywords are never valid tables in any case",
		prop.ForAll(
			func(candidate string) bool {
				_, err := ValidateIdentifier(candidate, TableIdent)
				return err != nil
			},
			genKeyword(),
		))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestPropertyValidationIsPure(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("validating twice gives the same outcome",
		prop.ForAll(
			func(candidate string) bool {
				a, errA := ValidateIdentifier(candidate, TableIdent)
				b, errB := ValidateIdentifier(candidate, TableIdent)
				if (errA == nil) != (errB == nil) {
					return false
				}
				if errA != nil {
					return errA.Error() == errB.Error()
				}
				again, err := ValidateIdentifier(a.String(), a.Kind())
				return a == b && err == nil && again == a
			},
			gen.OneGenOf(gen.Identifier(), gen.AnyString(), genDangerousCandidate()),
		))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestPropertyStackedStatementsRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("a top-level ; followed by text is rejected",
		prop.ForAll(
			func(head, tail string) bool {
				return Classify("SELECT "+head+"; "+tail).Category() == Rejected
			},
			gen.Identifier(),
			gen.Identifier(),
		))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestPropertyDDLRoundTrip(t *testing.T) {
	x, cleanup := setupTestExecutor(t)
	defer cleanup()
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	valid := gen.Identifier().Map(func(s string) string {
		if len(s) > 40 {
			return s[:40]
		}
		return s
	}).SuchThat(func(s string) bool {
		_, err := ValidateIdentifier(s, TableIdent)
		return err == nil
	})

	properties.Property("a created table appears under exactly its validated name",
		prop.ForAll(
			func(name, col string) bool {
				table, err := ValidateIdentifier(name, TableIdent)
				if err != nil {
					return false
				}
				column, err := ValidateIdentifier(col, ColumnIdent)
				if err != nil {
					return true
				}

				create := Classify("CREATE TABLE "+Quote(table)+" ("+Quote(column)+" TEXT)", table, column)
				if create.Category() != DDLCreate {
					t.Logf("create classified %s: %s", create.Category(), create.Reason())
					return false
				}
				if _, err := x.Execute(ctx, create, nil, true); err != nil {
					t.Logf("create failed: %v", err)
					return false
				}
				defer x.Execute(ctx, Classify("DROP TABLE "+Quote(table), table), nil, true)

				schema, err := x.GetSchema(ctx)
				if err != nil {
					return false
				}
				matches := 0
				for _, n := range schema.Names() {
					if strings.EqualFold(n, name) {
						matches++
					}
				}
				cols := schema[name]
				return matches == 1 && len(cols) == 1 && cols[0].Name == col
			},
			valid,
			valid,
		))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
