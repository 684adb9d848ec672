package database

import (
	"context"
	"time"
)

// ============================================================================
// SENTIMENT ANALYSES
// ============================================================================

// CreateSentiment inserts the classification for one article. The news_id
// unique constraint makes re-analysis an integrity error for the caller to
// skip.
func (r *Repository) CreateSentiment(ctx context.Context, s *SentimentAnalysis) error {
	if s.AnalyzedAt.IsZero() {
		s.AnalyzedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO sentiment_analyses (news_id, sentiment, score, reasoning, analyzed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.db.conn.QueryRowContext(
		ctx, query,
		s.NewsID, s.Sentiment, s.Score, s.Reasoning, s.AnalyzedAt,
	).Scan(&s.ID)
}

// GetSentimentByNewsID retrieves the sentiment for one article.
func (r *Repository) GetSentimentByNewsID(ctx context.Context, newsID int64) (*SentimentAnalysis, error) {
	s := &SentimentAnalysis{}
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, news_id, sentiment, score, reasoning, analyzed_at
		FROM sentiment_analyses WHERE news_id = $1
	`, newsID).Scan(&s.ID, &s.NewsID, &s.Sentiment, &s.Score, &s.Reasoning, &s.AnalyzedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// GetSentimentsBetween retrieves sentiments for articles published within
// [from, to), joined to the article's publication date for daily grouping.
func (r *Repository) GetSentimentsBetween(ctx context.Context, from, to time.Time) ([]*SentimentWithDate, error) {
	query := `
		SELECT s.id, s.news_id, s.sentiment, s.score, s.reasoning, s.analyzed_at, a.published_date
		FROM sentiment_analyses s
		JOIN news_articles a ON a.id = s.news_id
		WHERE a.published_date >= $1 AND a.published_date < $2
		ORDER BY a.published_date ASC
	`
	rows, err := r.db.conn.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SentimentWithDate
	for rows.Next() {
		s := &SentimentWithDate{}
		if err := rows.Scan(&s.ID, &s.NewsID, &s.Sentiment, &s.Score, &s.Reasoning, &s.AnalyzedAt, &s.PublishedDate); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SentimentWithDate is a sentiment row carrying its article's publish date.
type SentimentWithDate struct {
	SentimentAnalysis
	PublishedDate time.Time `json:"published_date"`
}

// CountSentiments returns the number of stored sentiment rows.
func (r *Repository) CountSentiments(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM sentiment_analyses`).Scan(&n)
	return n, err
}
