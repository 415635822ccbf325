package mcptools_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hafiz/internal/catalog"
	"github.com/MrWong99/hafiz/internal/kv"
	"github.com/MrWong99/hafiz/internal/mcptools"
	"github.com/MrWong99/hafiz/internal/observe"
	"github.com/MrWong99/hafiz/internal/progress"
	"github.com/MrWong99/hafiz/internal/recite"
)

var now = time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

func connect(t *testing.T, store *progress.Store, m *observe.Metrics) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	srv, err := mcptools.NewServer(mcptools.Deps{
		Catalog: catalog.Default(),
		Store:   store,
		Scorer:  func() *recite.Scorer { return recite.NewScorer() },
		Metrics: m,
	}, "test")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ct, st := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func newStore() *progress.Store {
	return progress.NewStore(kv.NewMemStore(), progress.WithClock(func() time.Time { return now }))
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatalf("result has no text content: %+v", res)
	return ""
}

func decode[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool error: %s", text(t, res))
	}
	var v T
	if err := json.Unmarshal([]byte(text(t, res)), &v); err != nil {
		t.Fatalf("decode tool output: %v", err)
	}
	return v
}

func TestNewServer_RequiresDeps(t *testing.T) {
	t.Parallel()
	if _, err := mcptools.NewServer(mcptools.Deps{}, "test"); err == nil {
		t.Fatal("NewServer: expected error for empty deps")
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()
	cs := connect(t, newStore(), nil)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	got := make(map[string]bool)
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, want := range []string{"list_collections", "check_recitation", "progress_summary", "streak"} {
		if !got[want] {
			t.Errorf("tool %q not registered", want)
		}
	}
}

func TestCheckRecitation(t *testing.T) {
	t.Parallel()
	store := newStore()
	cs := connect(t, store, nil)

	tests := []struct {
		name       string
		verse      int
		transcript string
		want       recite.Verdict
	}{
		{"correct", 1, "قل هو الله احد", recite.VerdictCorrect},
		{"incorrect", 2, "لم يلد", recite.VerdictIncorrect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, cs, "check_recitation", map[string]any{
				"collection_id": 112, "verse_id": tt.verse, "transcript": tt.transcript,
			})
			out := decode[struct {
				Verdict recite.Verdict `json:"verdict"`
			}](t, res)
			if out.Verdict != tt.want {
				t.Errorf("verdict = %q, want %q", out.Verdict, tt.want)
			}
		})
	}

	rec := store.Load(context.Background())
	if !rec.Memorized(112, 1) || rec.Memorized(112, 2) {
		t.Errorf("record = %v, want only 112:1 memorized", rec)
	}
	if n := store.Streak(context.Background()); n != 1 {
		t.Errorf("Streak = %d, want 1", n)
	}
}

func TestCheckRecitation_UnknownVerse(t *testing.T) {
	t.Parallel()
	cs := connect(t, newStore(), nil)

	res := call(t, cs, "check_recitation", map[string]any{
		"collection_id": 112, "verse_id": 40, "transcript": "x",
	})
	if !res.IsError {
		t.Fatal("expected a tool error for an unknown verse")
	}
	if msg := text(t, res); !strings.Contains(msg, "unknown verse") {
		t.Errorf("error text = %q", msg)
	}
}

func TestListCollectionsAndSummary(t *testing.T) {
	t.Parallel()
	store := newStore()
	ctx := context.Background()
	for v := 1; v <= 3; v++ {
		if err := store.MarkVerseMemorized(ctx, 110, v); err != nil {
			t.Fatal(err)
		}
	}
	cs := connect(t, store, nil)

	list := decode[struct {
		Collections []struct {
			ID        int    `json:"id"`
			Name      string `json:"name"`
			Score     int    `json:"score"`
			Completed bool   `json:"completed"`
		} `json:"collections"`
	}](t, call(t, cs, "list_collections", map[string]any{"lang": "ar"}))
	if len(list.Collections) != 7 {
		t.Fatalf("collections = %d, want 7", len(list.Collections))
	}
	for _, c := range list.Collections {
		if c.ID == 110 && (!c.Completed || c.Score != 100 || c.Name != "النصر") {
			t.Errorf("An-Nasr = %+v", c)
		}
		if c.ID != 110 && c.Completed {
			t.Errorf("collection %d reported completed", c.ID)
		}
	}

	sum := decode[struct {
		Totals progress.Totals `json:"totals"`
	}](t, call(t, cs, "progress_summary", map[string]any{}))
	if sum.Totals.Memorized != 3 || sum.Totals.Total != 32 {
		t.Errorf("totals = %+v", sum.Totals)
	}
}

func TestStreak(t *testing.T) {
	t.Parallel()
	store := newStore()
	if err := store.LogToday(context.Background()); err != nil {
		t.Fatal(err)
	}
	cs := connect(t, store, nil)

	out := decode[struct {
		Streak int      `json:"streak"`
		Dates  []string `json:"dates"`
	}](t, call(t, cs, "streak", map[string]any{}))
	if out.Streak != 1 || len(out.Dates) != 1 || out.Dates[0] != "2026-05-02" {
		t.Errorf("streak = %+v", out)
	}
}

func TestToolCallsAreCounted(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	cs := connect(t, newStore(), m)
	call(t, cs, "streak", map[string]any{})
	call(t, cs, "check_recitation", map[string]any{"collection_id": 1, "verse_id": 1, "transcript": "x"})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "hafiz.tool.calls" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Errorf("tool call count = %d, want 2", total)
	}
}
