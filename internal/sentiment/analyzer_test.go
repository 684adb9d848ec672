package sentiment

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/llm"
	"sentiment-trading-bot/internal/logging"
)

type fakeCompleter struct {
	responses map[string]string // keyed by substring of prompt
	fallback  string
	err       error
	prompts   []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ int, _ float64, _ llm.Priority) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	for key, resp := range f.responses {
		if strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return f.fallback, nil
}

func newTestStore(t *testing.T) *database.Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Engine: database.EngineSQLite,
		Path:   filepath.Join(t.TempDir(), "sentiment.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background()))
	return database.NewRepository(db)
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantLabel string
		wantScore float64
		wantErr   bool
	}{
		{
			name:      "clean json",
			raw:       `{"sentiment": "Positive", "reasoning": "earnings beat"}`,
			wantLabel: database.SentimentPositive,
			wantScore: 1.0,
		},
		{
			name:      "lowercase label normalized",
			raw:       `{"sentiment": "negative", "reasoning": "guidance cut"}`,
			wantLabel: database.SentimentNegative,
			wantScore: -1.5,
		},
		{
			name:      "uppercase label normalized",
			raw:       `{"sentiment": "NEUTRAL", "reasoning": "mixed"}`,
			wantLabel: database.SentimentNeutral,
			wantScore: 0.0,
		},
		{
			name:      "fenced output",
			raw:       "```json\n{\"sentiment\": \"Positive\", \"reasoning\": \"buyback\"}\n```",
			wantLabel: database.SentimentPositive,
			wantScore: 1.0,
		},
		{
			name:      "prose around json",
			raw:       `Sure, here is the classification: {"sentiment": "Neutral", "reasoning": "no surprises"} Done.`,
			wantLabel: database.SentimentNeutral,
			wantScore: 0.0,
		},
		{
			name:    "invalid label",
			raw:     `{"sentiment": "Bullish", "reasoning": "x"}`,
			wantErr: true,
		},
		{
			name:    "no json at all",
			raw:     "the article is positive",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassification(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, got.Sentiment)
			assert.InDelta(t, tt.wantScore, got.Score, 1e-9)
		})
	}
}

func TestQuantify(t *testing.T) {
	for label, want := range map[string]float64{
		database.SentimentPositive: 1.0,
		database.SentimentNeutral:  0.0,
		database.SentimentNegative: -1.5,
	} {
		got, err := Quantify(label)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9)
	}
	_, err := Quantify("Euphoric")
	assert.Error(t, err)
}

func TestAnalyzeBatchStoresSentiments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	good := &database.NewsArticle{Title: "Samsung beats estimates", Body: "strong quarter", PublishedDate: now}
	bad := &database.NewsArticle{Title: "Regulator fines chipmaker", Body: "penalty announced", PublishedDate: now}
	require.NoError(t, store.CreateArticle(ctx, good))
	require.NoError(t, store.CreateArticle(ctx, bad))

	completer := &fakeCompleter{responses: map[string]string{
		"beats estimates": `{"sentiment": "Positive", "reasoning": "earnings beat"}`,
		"Regulator fines": `{"sentiment": "Negative", "reasoning": "penalty"}`,
	}}

	a := NewAnalyzer(completer, store, logging.Nop())
	result, err := a.AnalyzeBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Analyzed)
	assert.Equal(t, 0, result.Failed)

	s, err := store.GetSentimentByNewsID(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SentimentPositive, s.Sentiment)
	assert.InDelta(t, 1.0, s.Score, 1e-9)

	s, err = store.GetSentimentByNewsID(ctx, bad.ID)
	require.NoError(t, err)
	assert.InDelta(t, -1.5, s.Score, 1e-9)

	// Nothing left to analyze.
	remaining, err := store.GetUnanalyzedArticles(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestAnalyzeBatchIsolatesFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok := &database.NewsArticle{Title: "Dividend raised", PublishedDate: now}
	garbled := &database.NewsArticle{Title: "Strange wire item", PublishedDate: now}
	require.NoError(t, store.CreateArticle(ctx, ok))
	require.NoError(t, store.CreateArticle(ctx, garbled))

	completer := &fakeCompleter{
		responses: map[string]string{
			"Dividend raised": `{"sentiment": "Positive", "reasoning": "shareholder friendly"}`,
		},
		fallback: "I cannot classify this article.",
	}

	a := NewAnalyzer(completer, store, logging.Nop())
	result, err := a.AnalyzeBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Analyzed)
	assert.Equal(t, 1, result.Failed)

	// The failed article stays unanalyzed for the next pass.
	remaining, err := store.GetUnanalyzedArticles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, garbled.ID, remaining[0].ID)
}

func TestAnalyzeBatchCompleterDown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateArticle(ctx, &database.NewsArticle{
		Title: "x", PublishedDate: time.Now().UTC(),
	}))

	a := NewAnalyzer(&fakeCompleter{err: errors.New("server down")}, store, logging.Nop())
	result, err := a.AnalyzeBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Analyzed)
	assert.Equal(t, 1, result.Failed)
}

func TestPromptTruncatesLongBody(t *testing.T) {
	article := &database.NewsArticle{
		Title: "long read",
		Body:  strings.Repeat("a", 5000),
	}
	prompt := buildPrompt(article)
	assert.LessOrEqual(t, strings.Count(prompt, "a"), maxBodyChars+100)
	assert.Contains(t, prompt, "long read")
}

func TestPromptTruncationKeepsRunesIntact(t *testing.T) {
	article := &database.NewsArticle{
		Title: "hangul",
		Body:  strings.Repeat("증", maxBodyChars+50),
	}
	prompt := buildPrompt(article)
	assert.True(t, utf8.ValidString(prompt))
	assert.Equal(t, maxBodyChars, strings.Count(prompt, "증"))
}
