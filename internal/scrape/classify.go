package scrape

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/normalize"
)

// Marker word opening every dated link in the bullet-list era
// ("Boletín diario 15 de marzo ...").
const bulletListMarker = "bolet"

// URL substrings identifying bulletin files in the oldest layout.
var simpleLinkMarkers = []string{"sipsa", "precios"}

var (
	numericDateRe = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	pageYearRe    = regexp.MustCompile(`(20\d{2})`)
)

// ClassifyPage extracts file references from a publication page. The layout
// strategy is chosen from the target date; if the chosen strategy finds
// nothing, a generic scan over downloadable anchors is used instead. The
// classifier never fails on content: only unreadable HTML is an error.
func ClassifyPage(html, pageURL string, target *time.Time) ([]model.FileReference, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: parse page %s", pageURL)
	}

	layout := SelectLayout(target)
	var refs []model.FileReference
	switch layout {
	case LayoutFourColumn:
		refs = fourColumnRefs(doc, pageURL)
	case LayoutThreeColumn:
		refs = threeColumnRefs(doc, pageURL)
	case LayoutBulletList:
		refs = bulletListRefs(doc, pageURL)
	case LayoutSimpleLinks:
		refs = simpleLinkRefs(doc, pageURL)
	}

	if len(refs) == 0 {
		refs = genericRefs(doc, pageURL)
	}

	// Filename dates fill in where row context gave nothing.
	for i := range refs {
		if refs[i].Date == nil {
			refs[i].Date = DateFromFilename(refs[i].URL)
		}
	}

	zap.L().Debug("classified page",
		zap.String("page", pageURL),
		zap.String("layout", string(layout)),
		zap.Int("refs", len(refs)),
	)
	return refs, nil
}

// fourColumnRefs walks a table with one row per day: date, bulletin, annex,
// regional report. The bulletin column is intentionally skipped.
func fourColumnRefs(doc *goquery.Document, pageURL string) []model.FileReference {
	var refs []model.FileReference
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		date := dateFromCell(cells.Eq(0).Text())
		refs = append(refs, cellRefs(cells.Eq(2), pageURL, model.CategoryAnnex, date)...)
		refs = append(refs, cellRefs(cells.Eq(3), pageURL, model.CategoryRegionalReport, date)...)
	})
	return refs
}

// threeColumnRefs keeps only the last column's links, treated as annex.
func threeColumnRefs(doc *goquery.Document, pageURL string) []model.FileReference {
	var refs []model.FileReference
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		date := dateFromCell(cells.Eq(0).Text())
		refs = append(refs, cellRefs(cells.Eq(cells.Length()-1), pageURL, model.CategoryAnnex, date)...)
	})
	return refs
}

// bulletListRefs matches anchors whose text opens with the bulletin marker
// word; the year comes from the page's own URL since the link text omits it.
func bulletListRefs(doc *goquery.Document, pageURL string) []model.FileReference {
	year := 0
	if m := pageYearRe.FindStringSubmatch(pageURL); m != nil {
		year = atoi(m[1])
	}

	var refs []model.FileReference
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		text := normalize.CleanText(a.Text())
		if !strings.HasPrefix(normalize.Fold(text), bulletListMarker) {
			return
		}
		href, _ := a.Attr("href")
		abs := resolveURL(pageURL, href)
		format, ok := FormatForURL(abs)
		if !ok {
			return
		}

		var date *time.Time
		if d, ok := normalize.ParseSpanishDateDefault(text, year); ok {
			date = &d
		}
		refs = append(refs, model.FileReference{
			URL:        abs,
			Text:       text,
			Category:   categoryOrDefault(abs, text, model.CategoryAnnex),
			Format:     format,
			Date:       date,
			SourcePage: pageURL,
		})
	})
	return refs
}

// simpleLinkRefs is the oldest layout: the anchor text is the date itself,
// and only links whose URL names the price source are kept.
func simpleLinkRefs(doc *goquery.Document, pageURL string) []model.FileReference {
	var refs []model.FileReference
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		folded := normalize.Fold(href)
		matched := false
		for _, marker := range simpleLinkMarkers {
			if strings.Contains(folded, marker) {
				matched = true
				break
			}
		}
		if !matched {
			return
		}
		abs := resolveURL(pageURL, href)
		format, ok := FormatForURL(abs)
		if !ok {
			return
		}

		text := normalize.CleanText(a.Text())
		refs = append(refs, model.FileReference{
			URL:        abs,
			Text:       text,
			Category:   categoryOrDefault(abs, text, model.CategoryAnnex),
			Format:     format,
			Date:       dateFromCell(text),
			SourcePage: pageURL,
		})
	})
	return refs
}

// genericRefs is the fallback: every downloadable anchor under the site's
// file path, categorized by keyword.
func genericRefs(doc *goquery.Document, pageURL string) []model.FileReference {
	var refs []model.FileReference
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(strings.ToLower(href), "/files/") {
			return
		}
		abs := resolveURL(pageURL, href)
		format, ok := FormatForURL(abs)
		if !ok {
			return
		}
		text := normalize.CleanText(a.Text())
		refs = append(refs, model.FileReference{
			URL:        abs,
			Text:       text,
			Category:   CategoryForLink(abs, text),
			Format:     format,
			SourcePage: pageURL,
		})
	})
	return refs
}

// cellRefs collects the downloadable links inside one table cell.
func cellRefs(cell *goquery.Selection, pageURL string, category model.Category, date *time.Time) []model.FileReference {
	var refs []model.FileReference
	cell.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := resolveURL(pageURL, href)
		format, ok := FormatForURL(abs)
		if !ok {
			return
		}
		refs = append(refs, model.FileReference{
			URL:        abs,
			Text:       normalize.CleanText(a.Text()),
			Category:   category,
			Format:     format,
			Date:       date,
			SourcePage: pageURL,
		})
	})
	return refs
}

// dateFromCell parses a Spanish or numeric day/month/year expression.
func dateFromCell(text string) *time.Time {
	if d, ok := normalize.ParseSpanishDate(text); ok {
		return &d
	}
	if m := numericDateRe.FindStringSubmatch(text); m != nil {
		return buildDate(atoi(m[3]), time.Month(atoi(m[2])), atoi(m[1]))
	}
	return nil
}

func categoryOrDefault(rawURL, text string, fallback model.Category) model.Category {
	if c := CategoryForLink(rawURL, text); c != model.CategoryUnknown {
		return c
	}
	return fallback
}

func resolveURL(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
