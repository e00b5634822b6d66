package domain

// ColumnStats aggregates the cards of one column.
type ColumnStats struct {
	Title      string  `json:"title"`
	Count      int     `json:"count"`
	TotalValue float64 `json:"total_value"`
}

// PipelineSummary is the read-only analytics view over one principal's
// boards.
type PipelineSummary struct {
	ColumnStats        map[string]ColumnStats `json:"column_stats"`
	TotalCards         int                    `json:"total_cards"`
	TotalPipelineValue float64                `json:"total_pipeline_value"`
	Columns            []Column               `json:"columns"`
}

// Summarize groups cards by column and sums their estimated values. Cards
// referencing columns outside the given set are ignored; they belong to
// another principal's scope.
func Summarize(columns []Column, cards []Card) PipelineSummary {
	summary := PipelineSummary{
		ColumnStats: make(map[string]ColumnStats, len(columns)),
		Columns:     columns,
	}
	if columns == nil {
		summary.Columns = []Column{}
	}
	known := make(map[string]bool, len(columns))
	for _, col := range columns {
		known[col.ID] = true
		summary.ColumnStats[col.ID] = ColumnStats{Title: col.Title}
	}
	for _, card := range cards {
		if !known[card.ColumnID] {
			continue
		}
		stats := summary.ColumnStats[card.ColumnID]
		stats.Count++
		stats.TotalValue += card.EstimatedValue
		summary.ColumnStats[card.ColumnID] = stats
		summary.TotalCards++
		summary.TotalPipelineValue += card.EstimatedValue
	}
	return summary
}
