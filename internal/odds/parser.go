package odds

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Kill lines outside this range are not totals for a single game.
const (
	MinThreshold = 20.0
	MaxThreshold = 60.0
)

var (
	eventClasses = []string{"c-events__item", "event", "events-item", "match-container", "event-item"}
	betClasses   = []string{"c-bets__item", "bet", "market", "bet-cell", "bet-option"}

	killPatterns = []string{"total kills", "kills total", "kill total", "total kill"}
	pagePatterns = []string{"total kills over/under", "total kills over", "kill total", "total kill"}

	numberRe   = regexp.MustCompile(`\d+\.\d+|\d+`)
	pairSplits = []string{" vs ", " - ", "-"}
)

// ParseHTML converts raw HTML to a goquery Document for parsing
func ParseHTML(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// FindMatchURL searches a tournament listing for the event between the two
// teams and returns its absolute link. Exact "a vs b" and "a-b" patterns
// in either order are tried first, then both names anywhere in one
// element, then a fuzzy comparison of the names.
func FindMatchURL(doc *goquery.Document, listingURL, radiant, dire string) (string, bool) {
	radiant, dire = strings.ToLower(strings.TrimSpace(radiant)), strings.ToLower(strings.TrimSpace(dire))
	if radiant == "" || dire == "" {
		return "", false
	}
	elements := candidates(doc, eventClasses)

	patterns := []string{
		radiant + " vs " + dire,
		radiant + "-" + dire,
		dire + " vs " + radiant,
		dire + "-" + radiant,
	}
	strategies := []func(text string) bool{
		func(text string) bool {
			for _, p := range patterns {
				if strings.Contains(text, p) {
					return true
				}
			}
			return false
		},
		func(text string) bool {
			return strings.Contains(text, radiant) && strings.Contains(text, dire)
		},
		func(text string) bool {
			return fuzzyPair(text, radiant, dire)
		},
	}

	for _, match := range strategies {
		for _, el := range elements {
			text := strings.ToLower(strings.TrimSpace(el.Text()))
			if !match(text) {
				continue
			}
			if href, ok := link(el); ok {
				return absolute(listingURL, href), true
			}
		}
	}
	return "", false
}

// ParseKillThreshold returns the first total-kills line in range on a
// match page.
func ParseKillThreshold(doc *goquery.Document) (float64, bool) {
	elements := candidates(doc, betClasses)

	for _, el := range elements {
		text := strings.ToLower(strings.TrimSpace(el.Text()))
		if !containsAny(text, killPatterns) && !(strings.Contains(text, "over") && strings.Contains(text, "kill")) {
			continue
		}
		if v, ok := firstInRange(numberRe.FindAllString(text, -1)); ok {
			return v, true
		}
	}

	page := strings.ToLower(doc.Text())
	for _, p := range pagePatterns {
		idx := strings.Index(page, p)
		if idx < 0 {
			continue
		}
		window := page[max(0, idx-30):min(len(page), idx+len(p)+60)]
		if v, ok := firstInRange(numberRe.FindAllString(window, -1)); ok {
			return v, true
		}
	}
	return 0, false
}

func candidates(doc *goquery.Document, classes []string) []*goquery.Selection {
	var out []*goquery.Selection
	for _, class := range classes {
		doc.Find("." + class).Each(func(_ int, s *goquery.Selection) {
			out = append(out, s)
		})
	}
	if len(out) == 0 {
		doc.Find("div").Each(func(_ int, s *goquery.Selection) {
			out = append(out, s)
		})
	}
	return out
}

func link(el *goquery.Selection) (string, bool) {
	if goquery.NodeName(el) == "a" {
		if href, ok := el.Attr("href"); ok && href != "" {
			return href, true
		}
	}
	href, ok := el.Find("a[href]").First().Attr("href")
	return href, ok && href != ""
}

func absolute(listingURL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	base, err := url.Parse(listingURL)
	if err != nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// fuzzyPair splits an event title into two names and compares each with
// the team names by edit distance, in either order.
func fuzzyPair(text, a, b string) bool {
	for _, sep := range pairSplits {
		left, right, ok := strings.Cut(text, sep)
		if !ok {
			continue
		}
		left, right = strings.TrimSpace(left), strings.TrimSpace(right)
		if (similar(left, a) && similar(right, b)) || (similar(left, b) && similar(right, a)) {
			return true
		}
	}
	return false
}

func similar(candidate, name string) bool {
	if candidate == "" {
		return false
	}
	if fuzzy.MatchFold(name, candidate) && len(candidate) <= len(name)+4 {
		return true
	}
	limit := max(2, len(name)/4)
	return fuzzy.LevenshteinDistance(candidate, name) <= limit
}

func firstInRange(tokens []string) (float64, bool) {
	for _, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		if v >= MinThreshold && v <= MaxThreshold {
			return v, true
		}
	}
	return 0, false
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
