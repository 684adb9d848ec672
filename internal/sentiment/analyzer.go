// Package sentiment classifies stored news articles with the local LLM and
// converts labels into numeric scores for signal generation.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/llm"
)

// Score values per label. The negative weight is deliberately heavier so bad
// news dominates a mixed week.
const (
	ScorePositive = 1.0
	ScoreNeutral  = 0.0
	ScoreNegative = -1.5
)

// maxBodyChars caps how much article body goes into the prompt.
const maxBodyChars = 2000

const (
	analysisTemperature = 0.3
	analysisMaxTokens   = 500
)

// Completer is the LLM surface the analyzer uses.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64, priority llm.Priority) (string, error)
}

// Store is the persistence surface the analyzer needs.
type Store interface {
	GetUnanalyzedArticles(ctx context.Context, limit int) ([]*database.NewsArticle, error)
	CreateSentiment(ctx context.Context, s *database.SentimentAnalysis) error
}

// Analyzer classifies articles one at a time, isolating per-article failures.
type Analyzer struct {
	completer Completer
	store     Store
	log       zerolog.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(completer Completer, store Store, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		completer: completer,
		store:     store,
		log:       log.With().Str("component", "sentiment").Logger(),
	}
}

// Classification is the parsed model output for one article.
type Classification struct {
	Sentiment string  `json:"sentiment"`
	Reasoning string  `json:"reasoning"`
	Score     float64 `json:"-"`
}

// BatchResult summarizes one analysis pass.
type BatchResult struct {
	Analyzed int
	Failed   int
}

// AnalyzeBatch classifies up to limit unanalyzed articles. A failure on one
// article is logged and skipped; it stays unanalyzed for the next pass.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, limit int) (*BatchResult, error) {
	articles, err := a.store.GetUnanalyzedArticles(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load unanalyzed articles: %w", err)
	}

	result := &BatchResult{}
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		classification, err := a.Analyze(ctx, article)
		if err != nil {
			a.log.Warn().Err(err).Int64("news_id", article.ID).Msg("article analysis failed")
			result.Failed++
			continue
		}

		row := &database.SentimentAnalysis{
			NewsID:     article.ID,
			Sentiment:  classification.Sentiment,
			Score:      classification.Score,
			Reasoning:  classification.Reasoning,
			AnalyzedAt: time.Now().UTC(),
		}
		if err := a.store.CreateSentiment(ctx, row); err != nil {
			a.log.Warn().Err(err).Int64("news_id", article.ID).Msg("failed to store sentiment")
			result.Failed++
			continue
		}
		result.Analyzed++
	}

	a.log.Info().Int("analyzed", result.Analyzed).Int("failed", result.Failed).Msg("sentiment batch finished")
	return result, nil
}

// Analyze classifies one article.
func (a *Analyzer) Analyze(ctx context.Context, article *database.NewsArticle) (*Classification, error) {
	prompt := buildPrompt(article)

	raw, err := a.completer.Complete(ctx, prompt, analysisMaxTokens, analysisTemperature, llm.PriorityNormal)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	return ParseClassification(raw)
}

// ParseClassification extracts and validates the model's JSON answer.
func ParseClassification(raw string) (*Classification, error) {
	jsonText, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("no JSON in model output: %w", err)
	}

	var c Classification
	if err := json.Unmarshal([]byte(jsonText), &c); err != nil {
		return nil, fmt.Errorf("malformed classification: %w", err)
	}

	label, score, err := normalizeLabel(c.Sentiment)
	if err != nil {
		return nil, err
	}
	c.Sentiment = label
	c.Score = score
	return &c, nil
}

// normalizeLabel title-cases the label and maps it to its score.
func normalizeLabel(label string) (string, float64, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive":
		return database.SentimentPositive, ScorePositive, nil
	case "neutral":
		return database.SentimentNeutral, ScoreNeutral, nil
	case "negative":
		return database.SentimentNegative, ScoreNegative, nil
	default:
		return "", 0, fmt.Errorf("invalid sentiment label %q", label)
	}
}

func buildPrompt(article *database.NewsArticle) string {
	body := article.Body
	if utf8.RuneCountInString(body) > maxBodyChars {
		runes := []rune(body)
		body = string(runes[:maxBodyChars])
	}

	var sb strings.Builder
	sb.WriteString("You are a financial news analyst. Classify the market sentiment of the following article for stock investors.\n\n")
	sb.WriteString("Title: ")
	sb.WriteString(article.Title)
	sb.WriteString("\n\n")
	if body != "" {
		sb.WriteString("Body: ")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	sb.WriteString(`Respond with JSON only, in this exact shape:
{"sentiment": "Positive|Neutral|Negative", "reasoning": "one short sentence"}`)
	return sb.String()
}

// Quantify maps a stored label to its score. Used when re-deriving scores
// from persisted rows.
func Quantify(label string) (float64, error) {
	_, score, err := normalizeLabel(label)
	return score, err
}
