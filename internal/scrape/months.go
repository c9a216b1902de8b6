package scrape

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/agroamigo/sipsa-pipeline/internal/normalize"
)

// MonthPage is one month of the historical archive. URLs holds candidate
// addresses in preference order; the site occasionally republishes a month
// under a -1 or -2 suffix, so the scraper tries each until one loads.
type MonthPage struct {
	Year  int
	Month time.Month
	URLs  []string
}

// HistoricalMonths scans the archive index page for per-month links covering
// the given date range, inclusive of both endpoints' months.
func HistoricalMonths(html, pageURL string, from, to time.Time) ([]MonthPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: parse archive index %s", pageURL)
	}

	var links []string
	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := resolveURL(pageURL, strings.TrimSpace(href))
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})

	var months []MonthPage
	for cursor := monthStart(from); !cursor.After(to); cursor = cursor.AddDate(0, 1, 0) {
		mp := MonthPage{Year: cursor.Year(), Month: cursor.Month()}
		re := monthLinkRe(cursor.Month())
		for _, link := range links {
			folded := normalize.Fold(link)
			if !strings.Contains(folded, fmt.Sprintf("%d", cursor.Year())) {
				continue
			}
			if !re.MatchString(folded) {
				continue
			}
			mp.URLs = append(mp.URLs, link)
		}
		// Republished-month suffixes, tried after every direct match.
		for _, base := range mp.URLs {
			trimmed := strings.TrimRight(base, "/")
			mp.URLs = append(mp.URLs, trimmed+"-1", trimmed+"-2")
		}
		if len(mp.URLs) > 0 {
			months = append(months, mp)
		}
	}
	return months, nil
}

// monthLinkRe matches a month name inside a URL slug without matching it
// inside a longer word. "mayo" must not match "mayoristas", so the name has
// to be delimited or followed by the "-de-" year connector.
func monthLinkRe(month time.Month) *regexp.Regexp {
	name := normalize.MonthName(month)
	return regexp.MustCompile(fmt.Sprintf(`[-/_]%s([-_\s/]|$)|%s-de-`, name, name))
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
