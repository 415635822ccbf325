// Package mcptools exposes memorization progress to MCP clients.
//
// Four tools are registered by [NewServer]:
//   - "list_collections"  lists the surahs with durable progress.
//   - "check_recitation"  scores a transcript against a verse and records a
//     correct verdict.
//   - "progress_summary"  returns the per-collection chart rows and totals.
//   - "streak"            returns the practice streak and logged days.
//
// Handlers are safe for concurrent use.
package mcptools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/hafiz/internal/catalog"
	"github.com/MrWong99/hafiz/internal/observe"
	"github.com/MrWong99/hafiz/internal/progress"
	"github.com/MrWong99/hafiz/internal/recite"
)

// Deps are the collaborators the tools operate on. Metrics may be nil.
type Deps struct {
	Catalog *catalog.Catalog
	Store   *progress.Store
	Scorer  func() *recite.Scorer
	Metrics *observe.Metrics

	// DefaultLang names collections when a call gives no language.
	DefaultLang string
}

type langArgs struct {
	Lang string `json:"lang,omitempty" jsonschema:"display language for names: en, fr or ar"`
}

type collectionInfo struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Verses    int    `json:"verses"`
	Memorized int    `json:"memorized"`
	Score     int    `json:"score"`
	Completed bool   `json:"completed"`
}

type listResult struct {
	Collections []collectionInfo `json:"collections"`
}

type checkArgs struct {
	CollectionID int    `json:"collection_id" jsonschema:"surah number, for example 112"`
	VerseID      int    `json:"verse_id" jsonschema:"verse number within the surah, starting at 1"`
	Transcript   string `json:"transcript" jsonschema:"what the child recited, in Arabic"`
}

type checkResult struct {
	Verdict             recite.Verdict `json:"verdict"`
	Similarity          float64        `json:"similarity"`
	CollectionCompleted bool           `json:"collection_completed"`
}

type summaryResult struct {
	Rows   []progress.ChartRow `json:"rows"`
	Totals progress.Totals     `json:"totals"`
}

type streakResult struct {
	Streak int      `json:"streak"`
	Dates  []string `json:"dates"`
}

type tools struct {
	d Deps
}

// NewServer returns an MCP server with the progress tools registered.
func NewServer(d Deps, version string) (*mcp.Server, error) {
	if d.Catalog == nil || d.Store == nil || d.Scorer == nil {
		return nil, errors.New("mcptools: catalog, store and scorer are required")
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.DefaultLang == "" {
		d.DefaultLang = "en"
	}
	t := &tools{d: d}

	s := mcp.NewServer(&mcp.Implementation{Name: "hafiz", Version: version}, nil)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_collections",
		Description: "List the surahs available for memorization with how many verses are memorized.",
	}, instrument(t, "list_collections", t.listCollections))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "check_recitation",
		Description: "Score a recited transcript against one verse. Correct recitations are saved as memorized.",
	}, instrument(t, "check_recitation", t.checkRecitation))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "progress_summary",
		Description: "Summarize memorized and remaining verses per surah.",
	}, instrument(t, "progress_summary", t.progressSummary))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "streak",
		Description: "Report the number of consecutive practice days and the days practiced.",
	}, instrument(t, "streak", t.streak))
	return s, nil
}

// instrument records the outcome of every call of h.
func instrument[In, Out any](t *tools, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		res, out, err := h(ctx, req, in)
		status := "ok"
		if err != nil {
			status = "error"
			observe.Logger(ctx).Warn("mcptools: tool failed", "tool", name, "err", err)
		}
		t.d.Metrics.RecordToolCall(ctx, name, status)
		return res, out, err
	}
}

func (t *tools) lang(l string) string {
	if l == "" {
		return t.d.DefaultLang
	}
	return l
}

func (t *tools) listCollections(ctx context.Context, _ *mcp.CallToolRequest, in langArgs) (*mcp.CallToolResult, listResult, error) {
	rec := t.d.Store.Load(ctx)
	cols := t.d.Catalog.Collections()
	rows := progress.ChartRows(cols, rec, t.lang(in.Lang))
	out := listResult{Collections: make([]collectionInfo, len(cols))}
	for i, col := range cols {
		out.Collections[i] = collectionInfo{
			ID:        col.ID,
			Name:      rows[i].Name,
			Verses:    rows[i].Total,
			Memorized: rows[i].Memorized,
			Score:     progress.CollectionScore(rec, col),
			Completed: rows[i].Remaining == 0,
		}
	}
	return nil, out, nil
}

func (t *tools) checkRecitation(ctx context.Context, _ *mcp.CallToolRequest, in checkArgs) (*mcp.CallToolResult, checkResult, error) {
	col, err := t.d.Catalog.Collection(in.CollectionID)
	if err != nil {
		return nil, checkResult{}, err
	}
	verse, err := t.d.Catalog.Verse(col.ID, in.VerseID)
	if err != nil {
		return nil, checkResult{}, err
	}
	a := t.d.Scorer().Attempt(verse.ID, verse.Text, in.Transcript)
	t.d.Metrics.RecordAttempt(ctx, string(a.Verdict), a.Similarity)
	if err := progress.NewTracker(t.d.Store, nil).Record(ctx, col.ID, verse.ID, a.Correct()); err != nil {
		return nil, checkResult{}, fmt.Errorf("mcptools: save progress: %w", err)
	}
	return nil, checkResult{
		Verdict:             a.Verdict,
		Similarity:          a.Similarity,
		CollectionCompleted: t.d.Store.CollectionMemorized(ctx, col),
	}, nil
}

func (t *tools) progressSummary(ctx context.Context, _ *mcp.CallToolRequest, in langArgs) (*mcp.CallToolResult, summaryResult, error) {
	rows := progress.ChartRows(t.d.Catalog.Collections(), t.d.Store.Load(ctx), t.lang(in.Lang))
	return nil, summaryResult{Rows: rows, Totals: progress.SumRows(rows)}, nil
}

func (t *tools) streak(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, streakResult, error) {
	dates := t.d.Store.Dates(ctx)
	out := streakResult{Streak: t.d.Store.Streak(ctx), Dates: make([]string, len(dates))}
	for i, d := range dates {
		out.Dates[i] = d.Format(progress.DateLayout)
	}
	return nil, out, nil
}
