package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"marketlens/internal/logger"
	"marketlens/internal/types"
)

// newsSite is one scrapeable news source configuration.
type newsSite struct {
	Name              string
	TagURL            string // {tag} is replaced with the symbol's tag
	HeadlineSelector  string
	ContainerSelector string
}

// newsTags maps ticker symbols to the tag slug used by the news sites.
var newsTags = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"XRP":  "xrp",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
}

// NewsScraper collects recent headline coverage for a symbol. It implements
// both HeadlineSource for the news phase and SourceAdapter so the coverage
// count can flow through the usual reading pipeline.
type NewsScraper struct {
	sites   []newsSite
	timeout time.Duration
}

// NewNewsScraper creates a scraper over the default crypto news sites.
func NewNewsScraper(timeout time.Duration) *NewsScraper {
	return &NewsScraper{
		timeout: timeout,
		sites: []newsSite{
			{
				Name:              "CoinTelegraph",
				TagURL:            "https://cointelegraph.com/tags/{tag}",
				ContainerSelector: "article",
				HeadlineSelector:  "span[data-testid='post-card-title'], h2",
			},
			{
				Name:              "Decrypt",
				TagURL:            "https://decrypt.co/news/{tag}",
				ContainerSelector: "article",
				HeadlineSelector:  "h3, h4",
			},
		},
	}
}

func (s *NewsScraper) Name() string { return "news_scraper" }

// Headlines scrapes up to max recent headlines mentioning the symbol.
func (s *NewsScraper) Headlines(ctx context.Context, symbol string, max int) ([]string, error) {
	tag, ok := newsTags[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("no news tag configured for symbol %s", symbol)
	}

	seen := make(map[string]bool)
	var headlines []string

	for _, site := range s.sites {
		if len(headlines) >= max {
			break
		}
		found, err := s.scrapeSite(ctx, site, tag, max-len(headlines))
		if err != nil {
			logger.Warn(ctx, "News site scrape failed, continuing",
				"site", site.Name,
				"symbol", symbol,
				"error", err,
			)
			continue
		}
		for _, h := range found {
			if !seen[h] {
				seen[h] = true
				headlines = append(headlines, h)
			}
		}
	}

	return headlines, nil
}

// scrapeSite visits one site's tag page and extracts headline text.
func (s *NewsScraper) scrapeSite(ctx context.Context, site newsSite, tag string, max int) ([]string, error) {
	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(s.timeout)

	var headlines []string
	c.OnHTML(site.ContainerSelector, func(e *colly.HTMLElement) {
		if len(headlines) >= max {
			return
		}
		if title := cleanHeadline(e.DOM.Find(site.HeadlineSelector)); title != "" {
			headlines = append(headlines, title)
		}
	})

	// Abort early if the phase deadline already expired.
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	url := strings.ReplaceAll(site.TagURL, "{tag}", tag)
	if err := c.Visit(url); err != nil {
		return nil, err
	}
	c.Wait()

	return headlines, nil
}

// cleanHeadline extracts and normalizes the first matching headline text.
func cleanHeadline(sel *goquery.Selection) string {
	text := strings.TrimSpace(sel.First().Text())
	return strings.Join(strings.Fields(text), " ")
}

// Fetch reports headline coverage as a reading so the news phase can score
// availability the same way as every other phase.
func (s *NewsScraper) Fetch(ctx context.Context, symbol string) types.SourceReading {
	start := time.Now()

	headlines, err := s.Headlines(ctx, symbol, 15)
	if err != nil {
		return failureReading(s.Name(), start, err)
	}

	return successReading(s.Name(), start, map[string]float64{
		"article_count": float64(len(headlines)),
	})
}
