// Package scrape discovers and downloads bulletin files from the publication
// site. The site's HTML layout changed four times over its history, so link
// extraction picks a strategy from the date being looked at.
package scrape

import "time"

// Layout identifies one historical page layout of the publication site.
type Layout string

const (
	// LayoutFourColumn is the current layout: one table row per day with
	// date, bulletin, annex and regional-report columns.
	LayoutFourColumn Layout = "four_column"
	// LayoutThreeColumn has the date in column 0 and annex links in the
	// last column.
	LayoutThreeColumn Layout = "three_column"
	// LayoutBulletList is a flat list of dated links.
	LayoutBulletList Layout = "bullet_list"
	// LayoutSimpleLinks is the oldest layout: bare anchors whose text is
	// the date itself.
	LayoutSimpleLinks Layout = "simple_links"
)

// Layout era boundaries.
var (
	bulletListFrom  = time.Date(2013, time.January, 1, 0, 0, 0, 0, time.UTC)
	threeColumnFrom = time.Date(2016, time.July, 1, 0, 0, 0, 0, time.UTC)
	fourColumnFrom  = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// SelectLayout picks the extraction strategy for a page covering the target
// date. Current pages (no date) use the newest layout.
func SelectLayout(target *time.Time) Layout {
	switch {
	case target == nil:
		return LayoutFourColumn
	case target.Before(bulletListFrom):
		return LayoutSimpleLinks
	case target.Before(threeColumnFrom):
		return LayoutBulletList
	case target.Before(fourColumnFrom):
		return LayoutThreeColumn
	default:
		return LayoutFourColumn
	}
}
