package generate

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/TrendDrop/internal/config"
)

const maxPerFeed = 20

// FeedHints prepends category names found in RSS/Atom feeds to the
// categories of an inner generator. Candidates are delegated unchanged.
type FeedHints struct {
	inner   CandidateGenerator
	feeds   []config.Feed
	parser  *gofeed.Parser
	timeout time.Duration
	logger  *slog.Logger
}

// NewFeedHints wraps inner with hints from feeds.
func NewFeedHints(inner CandidateGenerator, feeds []config.Feed, logger *slog.Logger) *FeedHints {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHints{
		inner:   inner,
		feeds:   feeds,
		parser:  gofeed.NewParser(),
		timeout: 15 * time.Second,
		logger:  logger,
	}
}

// Categories returns feed categories first, topped up from the inner generator.
func (f *FeedHints) Categories(ctx context.Context, n int) ([]string, error) {
	seen := make(map[string]bool)
	var cats []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || len(cats) >= n || seen[nameKey(c)] {
			return
		}
		seen[nameKey(c)] = true
		cats = append(cats, c)
	}

	for _, c := range f.Hints(ctx) {
		add(c)
	}

	inner, err := f.inner.Categories(ctx, n)
	if err != nil && len(cats) == 0 {
		return nil, err
	}
	for _, c := range inner {
		add(c)
	}
	return cats, nil
}

// Candidates delegates to the inner generator.
func (f *FeedHints) Candidates(ctx context.Context, req Request) ([]Candidate, error) {
	return f.inner.Candidates(ctx, req)
}

// Hints parses every configured feed and returns item and channel categories
// in feed order. Failing feeds are logged and skipped.
func (f *FeedHints) Hints(ctx context.Context) []string {
	var hints []string
	for _, fc := range f.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		cats, err := f.parseFeed(ctx, fc.URL)
		if err != nil {
			f.logger.Warn("failed to parse feed", "feed", name, "url", fc.URL, "error", err)
			continue
		}
		f.logger.Debug("parsed feed category hints", "feed", name, "count", len(cats))
		hints = append(hints, cats...)
	}
	return hints
}

func (f *FeedHints) parseFeed(ctx context.Context, feedURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	var cats []string
	for i, item := range feed.Items {
		if i >= maxPerFeed {
			break
		}
		cats = append(cats, item.Categories...)
	}
	return append(cats, feed.Categories...), nil
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
