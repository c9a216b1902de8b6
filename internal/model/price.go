package model

import "time"

// PriceRecord is a single observed wholesale price for one product at one
// market. Annex files yield min==max; PDF reports carry a min/max spread and
// may carry a second negotiation round.
type PriceRecord struct {
	ID           string     `json:"id"`
	EntryID      string     `json:"entry_id"`
	DocumentID   string     `json:"document_id,omitempty"` // empty for annex-sourced records
	Product      string     `json:"product"`
	Presentation string     `json:"presentation"`
	Units        string     `json:"units"`
	Category     string     `json:"category"`
	Subcategory  string     `json:"subcategory,omitempty"`
	Place        string     `json:"place"`
	Submarket    string     `json:"submarket,omitempty"`
	MinPrice     float64    `json:"min_price"`
	MaxPrice     float64    `json:"max_price"`
	Round        int        `json:"round"`
	BulletinDate *time.Time `json:"bulletin_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
