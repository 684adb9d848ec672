package database

import (
	"context"
	"time"
)

// ============================================================================
// NEWS ARTICLES
// ============================================================================

// CreateArticle inserts a new article.
func (r *Repository) CreateArticle(ctx context.Context, a *NewsArticle) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO news_articles (title, body, published_date, source, url, asset_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return r.db.conn.QueryRowContext(
		ctx, query,
		a.Title, a.Body, a.PublishedDate, a.Source, a.URL, a.AssetType, a.CreatedAt,
	).Scan(&a.ID)
}

// ArticleExistsByURL reports whether an article with this URL is stored.
func (r *Repository) ArticleExistsByURL(ctx context.Context, url string) (bool, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM news_articles WHERE url = $1`, url).Scan(&n)
	return n > 0, err
}

// ArticleExistsByTitleDate reports whether an article with identical title
// and published timestamp is stored.
func (r *Repository) ArticleExistsByTitleDate(ctx context.Context, title string, published time.Time) (bool, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM news_articles WHERE title = $1 AND published_date = $2`,
		title, published).Scan(&n)
	return n > 0, err
}

// GetArticle retrieves one article by id.
func (r *Repository) GetArticle(ctx context.Context, id int64) (*NewsArticle, error) {
	a := &NewsArticle{}
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, title, body, published_date, source, url, asset_type, created_at
		FROM news_articles WHERE id = $1
	`, id).Scan(&a.ID, &a.Title, &a.Body, &a.PublishedDate, &a.Source, &a.URL, &a.AssetType, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// GetUnanalyzedArticles retrieves articles without a sentiment row, oldest
// first, up to limit.
func (r *Repository) GetUnanalyzedArticles(ctx context.Context, limit int) ([]*NewsArticle, error) {
	query := `
		SELECT a.id, a.title, a.body, a.published_date, a.source, a.url, a.asset_type, a.created_at
		FROM news_articles a
		LEFT JOIN sentiment_analyses s ON s.news_id = a.id
		WHERE s.id IS NULL
		ORDER BY a.published_date ASC
		LIMIT $1
	`
	return r.queryArticles(ctx, query, limit)
}

// GetArticlesSince retrieves articles published on or after the cutoff.
func (r *Repository) GetArticlesSince(ctx context.Context, since time.Time) ([]*NewsArticle, error) {
	query := `
		SELECT id, title, body, published_date, source, url, asset_type, created_at
		FROM news_articles
		WHERE published_date >= $1
		ORDER BY published_date ASC
	`
	return r.queryArticles(ctx, query, since)
}

// PruneArticlesBefore deletes articles older than the cutoff. Sentiments
// cascade. Returns the number of rows removed.
func (r *Repository) PruneArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM news_articles WHERE published_date < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) queryArticles(ctx context.Context, query string, args ...interface{}) ([]*NewsArticle, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []*NewsArticle
	for rows.Next() {
		a := &NewsArticle{}
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.PublishedDate, &a.Source, &a.URL, &a.AssetType, &a.CreatedAt); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
