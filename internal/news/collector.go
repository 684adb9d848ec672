package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/events"
)

// DefaultKeywords is the financial relevance filter used when the
// configuration supplies none.
var DefaultKeywords = []string{
	"stock", "market", "economy", "interest rate", "inflation",
	"earnings", "fed", "gdp", "bond", "exports", "semiconductor",
	"exchange rate", "recession", "central bank", "trade",
}

// Store is the persistence surface the collector needs.
type Store interface {
	CreateArticle(ctx context.Context, a *database.NewsArticle) error
	ArticleExistsByURL(ctx context.Context, url string) (bool, error)
	ArticleExistsByTitleDate(ctx context.Context, title string, published time.Time) (bool, error)
	PruneArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CollectResult summarizes one collection pass.
type CollectResult struct {
	Fetched int
	Stored  int
	Skipped int
	Pruned  int64
}

// Collector fetches from the configured sources, keeps keyword-relevant
// articles, and stores them deduplicated.
type Collector struct {
	sources       []Source
	store         Store
	bus           *events.Bus
	log           zerolog.Logger
	keywords      []string
	query         string
	assetType     string
	lookback      time.Duration
	retention     time.Duration
	maxPerSource  int
}

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	Keywords     []string // articles must match at least one, case-insensitive
	Query        string   // source search query
	AssetType    string
	LookbackDays int
	NewsDays     int // retention window; 0 disables pruning
	MaxArticles  int
}

// NewCollector creates a collector over the given sources.
func NewCollector(sources []Source, store Store, bus *events.Bus, log zerolog.Logger, opts CollectorOptions) *Collector {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 3
	}
	if opts.AssetType == "" {
		opts.AssetType = "stock"
	}
	keywords := make([]string, 0, len(opts.Keywords))
	for _, k := range opts.Keywords {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Collector{
		sources:      sources,
		store:        store,
		bus:          bus,
		log:          log.With().Str("component", "news").Logger(),
		keywords:     keywords,
		query:        opts.Query,
		assetType:    opts.AssetType,
		lookback:     time.Duration(opts.LookbackDays) * 24 * time.Hour,
		retention:    time.Duration(opts.NewsDays) * 24 * time.Hour,
		maxPerSource: opts.MaxArticles,
	}
}

// Collect runs one pass over all sources. Per-source failures are logged and
// skipped so one bad feed never blocks the rest.
func (c *Collector) Collect(ctx context.Context) (*CollectResult, error) {
	result := &CollectResult{}
	from := time.Now().UTC().Add(-c.lookback)

	for _, source := range c.sources {
		articles, err := source.Fetch(ctx, c.query, from, c.maxPerSource)
		if err != nil {
			c.log.Error().Err(err).Str("source", source.Name()).Msg("news fetch failed")
			if c.bus != nil {
				c.bus.PublishError("news", "fetch failed for "+source.Name(), err)
			}
			continue
		}
		result.Fetched += len(articles)

		for _, article := range articles {
			stored, err := c.storeArticle(ctx, article)
			if err != nil {
				c.log.Error().Err(err).Str("title", article.Title).Msg("failed to store article")
				continue
			}
			if stored {
				result.Stored++
			} else {
				result.Skipped++
			}
		}
	}

	if c.retention > 0 {
		pruned, err := c.store.PruneArticlesBefore(ctx, time.Now().UTC().Add(-c.retention))
		if err != nil {
			c.log.Error().Err(err).Msg("news pruning failed")
		} else {
			result.Pruned = pruned
		}
	}

	c.log.Info().
		Int("fetched", result.Fetched).
		Int("stored", result.Stored).
		Int("skipped", result.Skipped).
		Int64("pruned", result.Pruned).
		Msg("news collection finished")

	if c.bus != nil {
		c.bus.PublishNewsCollected(result.Stored, result.Skipped)
	}
	return result, nil
}

// storeArticle filters and dedupes one article, returning whether it was
// stored.
func (c *Collector) storeArticle(ctx context.Context, article Article) (bool, error) {
	if !c.relevant(article) {
		return false, nil
	}

	// URL is the primary dedupe key. Title plus publish timestamp catches
	// the same story syndicated under a different URL, and is the only key
	// for articles without one.
	if article.URL != "" {
		exists, err := c.store.ArticleExistsByURL(ctx, article.URL)
		if err != nil {
			return false, fmt.Errorf("dedupe check failed: %w", err)
		}
		if exists {
			return false, nil
		}
	}
	exists, err := c.store.ArticleExistsByTitleDate(ctx, article.Title, article.PublishedDate)
	if err != nil {
		return false, fmt.Errorf("dedupe check failed: %w", err)
	}
	if exists {
		return false, nil
	}

	row := &database.NewsArticle{
		Title:         article.Title,
		Body:          article.Body,
		PublishedDate: article.PublishedDate,
		Source:        article.Source,
		AssetType:     c.assetType,
	}
	if article.URL != "" {
		url := article.URL
		row.URL = &url
	}
	if err := c.store.CreateArticle(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

// relevant reports whether the article matches any keyword. An empty keyword
// set accepts everything.
func (c *Collector) relevant(article Article) bool {
	if len(c.keywords) == 0 {
		return true
	}
	text := strings.ToLower(article.Title + " " + article.Body)
	for _, keyword := range c.keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
