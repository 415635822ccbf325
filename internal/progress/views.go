package progress

import (
	"math"

	"github.com/MrWong99/hafiz/internal/catalog"
)

// ChartRow is the per-collection row of the progress chart.
type ChartRow struct {
	Name      string `json:"name"`
	Memorized int    `json:"memorized"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
}

// Totals aggregates chart rows.
type Totals struct {
	Memorized int `json:"memorized"`
	Total     int `json:"total"`
}

// Score returns round(100*correct/total), or 0 when total is 0.
func Score(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}

// ChartRows builds one row per collection from the durable record. Only
// verses present in the catalog are counted.
func ChartRows(collections []catalog.Collection, rec Record, lang string) []ChartRow {
	rows := make([]ChartRow, 0, len(collections))
	for _, col := range collections {
		memorized := 0
		for _, v := range col.Verses {
			if rec.Memorized(col.ID, v.ID) {
				memorized++
			}
		}
		rows = append(rows, ChartRow{
			Name:      col.LocalizedName(lang),
			Memorized: memorized,
			Remaining: len(col.Verses) - memorized,
			Total:     len(col.Verses),
		})
	}
	return rows
}

// SumRows adds up the memorized and total counts of rows.
func SumRows(rows []ChartRow) Totals {
	var t Totals
	for _, r := range rows {
		t.Memorized += r.Memorized
		t.Total += r.Total
	}
	return t
}

// SessionScore is the percentage of col's verses judged correct in s.
func SessionScore(s *Session, col catalog.Collection) int {
	return Score(s.correctCount(col), len(col.Verses))
}

// CollectionScore is the percentage of col's verses durably memorized.
func CollectionScore(rec Record, col catalog.Collection) int {
	n := 0
	for _, v := range col.Verses {
		if rec.Memorized(col.ID, v.ID) {
			n++
		}
	}
	return Score(n, len(col.Verses))
}
