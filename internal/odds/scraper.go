// Package odds looks up kill-total betting lines and evaluates live match
// alerts for presentation.
package odds

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/ingest/upstream"
)

// PageRenderer loads a page with scripts executed.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Scraper finds kill thresholds on bookmaker mirrors, tried in order.
type Scraper struct {
	mirrors  []string
	http     *upstream.Client
	renderer PageRenderer
	logger   zerolog.Logger
}

// NewScraper creates a scraper. renderer may be nil.
func NewScraper(mirrors []string, http *upstream.Client, renderer PageRenderer, logger zerolog.Logger) *Scraper {
	return &Scraper{
		mirrors:  mirrors,
		http:     http,
		renderer: renderer,
		logger:   logger.With().Str("component", "odds").Logger(),
	}
}

// KillThreshold returns the kill line for the match between two teams.
// found is false when no mirror lists the match or its page has no line.
// An error is returned only when every mirror failed to load.
func (s *Scraper) KillThreshold(ctx context.Context, radiant, dire string) (float64, bool, error) {
	var errs []error
	for _, mirror := range s.mirrors {
		matchURL, err := s.findMatch(ctx, mirror, radiant, dire)
		if err != nil {
			errs = append(errs, err)
			s.logger.Debug().Err(err).Str("mirror", mirror).Msg("mirror unavailable")
			continue
		}
		if matchURL == "" {
			continue
		}

		page, err := s.document(ctx, matchURL, false)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v, ok := ParseKillThreshold(page); ok {
			return v, true, nil
		}
		if s.renderer != nil {
			if page, err = s.document(ctx, matchURL, true); err == nil {
				if v, ok := ParseKillThreshold(page); ok {
					return v, true, nil
				}
			}
		}
		s.logger.Debug().Str("url", matchURL).Msg("no kill line on match page")
		return 0, false, nil
	}
	if len(s.mirrors) > 0 && len(errs) == len(s.mirrors) {
		return 0, false, errors.Join(errs...)
	}
	return 0, false, nil
}

func (s *Scraper) findMatch(ctx context.Context, listing, radiant, dire string) (string, error) {
	doc, err := s.document(ctx, listing, false)
	if err == nil {
		if u, ok := FindMatchURL(doc, listing, radiant, dire); ok {
			return u, nil
		}
	}
	if s.renderer == nil {
		return "", err
	}
	doc, rerr := s.document(ctx, listing, true)
	if rerr != nil {
		return "", errors.Join(err, rerr)
	}
	u, _ := FindMatchURL(doc, listing, radiant, dire)
	return u, nil
}

func (s *Scraper) document(ctx context.Context, url string, render bool) (*goquery.Document, error) {
	if render {
		html, err := s.renderer.Render(ctx, url)
		if err != nil {
			return nil, err
		}
		return ParseHTML(html)
	}
	body, err := s.http.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("GET %s: empty body", url)
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}
