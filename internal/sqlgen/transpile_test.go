package sqlgen

import (
	"strings"
	"testing"

	"github.com/itrimble/SecureWatch-sub004/internal/kql"
)

func mustTranspile(t *testing.T, q *kql.Query) *Result {
	t.Helper()
	res, err := Transpile(q)
	if err != nil {
		t.Fatalf("Transpile: %v", err)
	}
	return res
}

func TestTranspilePlainCap(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table:      "events",
		Operations: []kql.Operation{kql.Limit{Count: 10}},
	})
	want := `SELECT * FROM "events" LIMIT 10;`
	if res.SQL != want {
		t.Errorf("got %s, want %s", res.SQL, want)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestTranspileFilterProjectLimit(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Filter{Cond: kql.Equal{Field: "event_type_id", Value: kql.StringLit("4624")}},
			kql.Project{Fields: []string{"timestamp", "user_id", "ip_address"}},
			kql.Limit{Count: 5},
		},
	})
	want := `SELECT "timestamp", "user_id", "ip_address" FROM "events" WHERE ("event_type_id" = '4624') LIMIT 5;`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileSummarizeSortLimit(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Filter{Cond: kql.Equal{Field: "event_type_id", Value: kql.StringLit("4625")}},
			kql.Summarize{
				Aggregations: []kql.Aggregation{{Alias: "attempts", Func: "COUNT"}},
				By:           []kql.GroupBy{{Field: "user_id"}},
			},
			kql.Sort{Clauses: []kql.SortClause{{Field: "attempts", Dir: "desc"}}},
			kql.Limit{Count: 10},
		},
	})
	want := `SELECT "user_id", COUNT(*) AS "attempts" FROM "events" WHERE ("event_type_id" = '4625') GROUP BY "user_id" ORDER BY "attempts" DESC LIMIT 10;`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileNestedPath(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Filter{Cond: kql.Equal{Field: "EventData.LogonType", Value: kql.IntLit(2)}},
			kql.Project{Fields: []string{"EventData.LogonType", "timestamp", "user_id"}},
		},
	})
	want := `SELECT "attributes"->>'LogonType' AS "EventData.LogonType", "timestamp", "user_id" FROM "events" WHERE ("attributes"->>'LogonType' = 2);`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileSetMembership(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Filter{Cond: kql.In{
				Field:         "severity",
				Values:        []kql.Literal{kql.StringLit("A"), kql.StringLit("B")},
				CaseSensitive: true,
			}},
		},
	})
	want := `SELECT * FROM "events" WHERE ("severity" IN ('A', 'B'));`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileInsensitiveMembershipWarns(t *testing.T) {
	// Values must pass through exactly as written; the insensitive
	// form is reported, never case-folded.
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Filter{Cond: kql.In{
				Field:  "severity",
				Values: []kql.Literal{kql.StringLit("High")},
			}},
		},
	})
	want := `SELECT * FROM "events" WHERE ("severity" IN ('High'));`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(res.Warnings), res.Warnings)
	}
}

func TestTranspileTopWithOthersWarns(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Top{Count: 5, Field: "attempts", Desc: true, WithOthers: true},
		},
	})
	want := `SELECT * FROM "events" ORDER BY "attempts" DESC LIMIT 5;`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "others") {
		t.Errorf("want one warning about the others bucket, got %v", res.Warnings)
	}
}

func TestTranspileAliasVisibility(t *testing.T) {
	// After Summarize only the new aliases are addressable; a later
	// sort on the aggregate alias must render bare, not re-derive.
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Summarize{
				Aggregations: []kql.Aggregation{{Alias: "total", Func: "SUM", Field: "net.bytes_size"}},
				By:           []kql.GroupBy{{Field: "EventData.LogonType"}},
			},
			kql.Sort{Clauses: []kql.SortClause{{Field: "total", Dir: "desc"}}},
			kql.Project{Fields: []string{"EventData.LogonType", "total"}},
		},
	})
	want := `SELECT "EventData.LogonType", "total" FROM "events" GROUP BY "attributes"->>'LogonType' ORDER BY "total" DESC;`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileSummarizeCastsNumericSideKeys(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Summarize{
				Aggregations: []kql.Aggregation{{Alias: "total", Func: "SUM", Field: "net.bytes_size"}},
				By:           []kql.GroupBy{{Field: "user_id"}},
			},
		},
	})
	want := `SELECT "user_id", SUM(("attributes"->>'bytes_size')::numeric) AS "total" FROM "events" GROUP BY "user_id";`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileGroupByExpression(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Summarize{
				Aggregations: []kql.Aggregation{{Alias: "n", Func: "COUNT"}},
				By: []kql.GroupBy{{Expr: &kql.GroupByExpr{
					Alias: "timestamp",
					SQL:   `DATE_TRUNC('hour', "timestamp")`,
				}}},
			},
			kql.Sort{Clauses: []kql.SortClause{{Field: "timestamp", Dir: "asc"}}},
		},
	})
	want := `SELECT DATE_TRUNC('hour', "timestamp") AS "timestamp", COUNT(*) AS "n" FROM "events" GROUP BY DATE_TRUNC('hour', "timestamp") ORDER BY "timestamp" ASC;`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileExtendKeepsWholeRow(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Extend{Columns: []kql.ExtendColumn{
				{Alias: "user_upper", Value: kql.Fragment{SQL: `UPPER("user_id")`}},
			}},
			kql.Sort{Clauses: []kql.SortClause{{Field: "user_upper"}}},
		},
	})
	want := `SELECT *, UPPER("user_id") AS "user_upper" FROM "events" ORDER BY "user_upper";`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileDistinct(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Distinct{Columns: []string{"user_id", "hostname"}},
		},
	})
	want := `SELECT DISTINCT "user_id", "hostname" FROM "events";`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}

	res = mustTranspile(t, &kql.Query{
		Table:      "events",
		Operations: []kql.Operation{kql.Distinct{}},
	})
	want = `SELECT DISTINCT * FROM "events";`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileSearch(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Search{Term: "mimikatz"},
		},
	})
	want := `SELECT * FROM "events" WHERE ("message" ILIKE '%mimikatz%' OR "hostname" ILIKE '%mimikatz%' OR "process_name" ILIKE '%mimikatz%' OR "user_id" ILIKE '%mimikatz%');`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}

	res = mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Search{Term: "admin", Columns: []string{"user_id"}},
		},
	})
	want = `SELECT * FROM "events" WHERE ("user_id" ILIKE '%admin%');`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileStackedFiltersConjoin(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Filter{Cond: kql.Compare{Field: "severity_id", Op: ">=", Value: kql.IntLit(3)}},
			kql.Filter{Cond: kql.StringMatch{Field: "message", Op: "contains", Value: "denied"}},
		},
	})
	want := `SELECT * FROM "events" WHERE ("severity_id" >= 3) AND ("message" ILIKE '%denied%');`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileNullTests(t *testing.T) {
	res := mustTranspile(t, &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Filter{Cond: kql.Logical{Op: "and", Conds: []kql.Condition{
				kql.Equal{Field: "logoff_time", Value: kql.NullLit()},
				kql.Compare{Field: "user_id", Op: "!=", Value: kql.NullLit()},
			}}},
		},
	})
	want := `SELECT * FROM "events" WHERE (("logoff_time" IS NULL) AND ("user_id" IS NOT NULL));`
	if res.SQL != want {
		t.Errorf("got  %s\nwant %s", res.SQL, want)
	}
}

func TestTranspileIsPure(t *testing.T) {
	q := &kql.Query{
		Table: "events",
		Operations: []kql.Operation{
			kql.Filter{Cond: kql.Equal{Field: "event_type_id", Value: kql.StringLit("4624")}},
			kql.Project{Fields: []string{"user_id"}},
			kql.Limit{Count: 5},
		},
	}
	first := mustTranspile(t, q)
	second := mustTranspile(t, q)
	if first.SQL != second.SQL {
		t.Errorf("repeated compilation diverged:\n%s\n%s", first.SQL, second.SQL)
	}
}

func TestTranspileRejectsBadInput(t *testing.T) {
	if _, err := Transpile(nil); err == nil {
		t.Error("want error for nil query")
	}
	if _, err := Transpile(&kql.Query{}); err == nil {
		t.Error("want error for missing source table")
	}
	_, err := Transpile(&kql.Query{
		Table:      "events",
		Operations: []kql.Operation{kql.Limit{Count: -1}},
	})
	if err == nil {
		t.Error("want error for negative row cap")
	}
}
