// Package mssql contains tests for helper utilities used by the MSSQL adapter.
package mssql

import (
	"strings"
	"testing"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// TestBuildDeleteCondition ensures that the join predicate for DELETE ... JOIN
// is constructed correctly from the provided key column list.
func TestBuildDeleteCondition(t *testing.T) {
	cases := []struct {
		keys []string
		want string
	}{
		{nil, ""},
		{[]string{"id"}, "T.[id] = S.[id]"},
		{[]string{"pcv", "date_from"}, "T.[pcv] = S.[pcv] AND T.[date_from] = S.[date_from]"},
		{[]string{"user]id"}, "T.[user]]id] = S.[user]]id]"},
	}
	for _, tc := range cases {
		if got := buildDeleteCondition(tc.keys); got != tc.want {
			t.Fatalf("buildDeleteCondition(%v) = %q; want %q", tc.keys, got, tc.want)
		}
	}
}

func TestStageName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"orders", "#lightspeed_stage_orders"},
		{"dbo.orders", "#lightspeed_stage_dbo_orders"},
		{"[dbo].[orders]", "#lightspeed_stage_dbo_orders"},
	}
	for _, tc := range cases {
		if got := stageName(tc.in); got != tc.want {
			t.Fatalf("stageName(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

// TestMergeSQL checks the statement sequence applied after staging an upsert.
func TestMergeSQL(t *testing.T) {
	spec := storage.CopySpec{
		Table:      "dbo.orders",
		Columns:    []string{"id", "amount"},
		KeyColumns: []string{"id"},
	}
	got := mergeSQL(spec, "[#stage]")
	if len(got) != 3 {
		t.Fatalf("mergeSQL returned %d statements; want 3", len(got))
	}

	want := []string{
		"DELETE T FROM [dbo].[orders] AS T INNER JOIN [#stage] AS S ON T.[id] = S.[id]",
		"INSERT INTO [dbo].[orders] ([id], [amount]) SELECT [id], [amount] FROM [#stage]",
		"DROP TABLE [#stage]",
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mergeSQL[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestQuoteList(t *testing.T) {
	got := quoteList([]string{"id", "weird]col"})
	if got != "[id], [weird]]col]" {
		t.Fatalf("quoteList = %q", got)
	}
	if strings.TrimSpace(quoteList(nil)) != "" {
		t.Fatalf("quoteList(nil) should be empty")
	}
}

func TestConfigBatchRows(t *testing.T) {
	if got := (Config{}).batchRows(); got != defaultBatchRows {
		t.Fatalf("default batchRows = %d; want %d", got, defaultBatchRows)
	}
	if got := (Config{BatchRows: 10}).batchRows(); got != 10 {
		t.Fatalf("batchRows = %d; want 10", got)
	}
}

// BenchmarkBuildDeleteCondition measures the cost of building join predicates
// for varying numbers of key columns.
func BenchmarkBuildDeleteCondition(b *testing.B) {
	keyColumns := []string{"id", "tenant_id", "region", "partition_id"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buildDeleteCondition(keyColumns)
	}
}
