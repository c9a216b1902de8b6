package model

// Summary aggregates the outcome of a processing or scraping pass.
type Summary struct {
	Total           int `json:"total"`
	Succeeded       int `json:"succeeded"`
	Failed          int `json:"failed"`
	Skipped         int `json:"skipped"`
	PricesExtracted int `json:"prices_extracted"`
	ErrorsLogged    int `json:"errors_logged"`
}

// Status is a point-in-time snapshot of pipeline state, served by the
// status API.
type Status struct {
	TotalEntries     int64 `json:"total_entries"`
	ProcessedEntries int64 `json:"processed_entries"`
	PendingEntries   int64 `json:"pending_entries"`
	ExtractedDocs    int64 `json:"extracted_documents"`
	PriceRecords     int64 `json:"price_records"`
	UnresolvedErrors int64 `json:"unresolved_errors"`
}

// Add folds another summary into s.
func (s *Summary) Add(o Summary) {
	s.Total += o.Total
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.PricesExtracted += o.PricesExtracted
	s.ErrorsLogged += o.ErrorsLogged
}
