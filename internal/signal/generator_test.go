package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/logging"
)

type fakeStore struct {
	rows []*database.SentimentWithDate
	err  error
}

func (f *fakeStore) GetSentimentsBetween(context.Context, time.Time, time.Time) ([]*database.SentimentWithDate, error) {
	return f.rows, f.err
}

type failingVIX struct{}

func (failingVIX) CurrentVIX(context.Context) (float64, error) {
	return 0, errors.New("quote source down")
}

// row builds a sentiment on a given day offset from a fixed base date.
func row(dayOffset int, score float64) *database.SentimentWithDate {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s := &database.SentimentWithDate{}
	s.Score = score
	s.PublishedDate = base.AddDate(0, 0, dayOffset)
	return s
}

func TestNormalizeVIX(t *testing.T) {
	tests := []struct {
		vix  float64
		want float64
	}{
		{5, 0},     // clamped to floor
		{10, 0},    // floor
		{25, 0.5},  // midpoint
		{40, 1},    // ceiling
		{80, 1},    // clamped to ceiling
		{34, 0.8},  // S2's reading
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeVIX(tt.vix), 1e-9, "vix=%f", tt.vix)
	}
}

func TestInterpretBands(t *testing.T) {
	assert.Equal(t, StrongSell, Interpret(0))
	assert.Equal(t, StrongSell, Interpret(30))
	assert.Equal(t, Neutral, Interpret(31))
	assert.Equal(t, Neutral, Interpret(50))
	assert.Equal(t, Neutral, Interpret(70))
	assert.Equal(t, StrongBuy, Interpret(71))
	assert.Equal(t, StrongBuy, Interpret(100))
}

func TestComputeEmptyWindowIsFlatNeutral(t *testing.T) {
	result := Compute(nil, 20, DefaultParams())
	assert.InDelta(t, 50.0, result.Ratio, 1e-9)
	assert.Equal(t, Neutral, result.Interpretation)
	assert.Zero(t, result.ArticleCount)
}

func TestComputeConservativeBiasBalance(t *testing.T) {
	// One Positive and one Negative on the same day lean bearish because the
	// negative score carries 1.5x weight.
	rows := []*database.SentimentWithDate{
		row(0, 1.0),
		row(0, -1.5),
	}
	result := Compute(rows, 10, DefaultParams()) // VIX 10 -> normalized 0

	require.Len(t, result.DailyScores, 1)
	assert.InDelta(t, -0.25, result.DailyScores[0], 1e-9)
	assert.InDelta(t, -0.25, result.WeeklySignal, 1e-9)
	assert.InDelta(t, 48.13, result.Ratio, 0.1)
	assert.Equal(t, Neutral, result.Interpretation)
}

func TestComputeAllPositiveWeekHighVIX(t *testing.T) {
	// Seven Positive sentiments, one per day, VIX normalized to 0.8.
	var rows []*database.SentimentWithDate
	for d := 0; d < 7; d++ {
		rows = append(rows, row(d, 1.0))
	}
	result := Compute(rows, 34, DefaultParams())

	assert.InDelta(t, 0.8, result.VIXNormalized, 1e-9)
	assert.InDelta(t, 12.6, result.WeeklySignal, 1e-9)
	assert.Greater(t, result.Ratio, 97.0)
	assert.Equal(t, StrongBuy, result.Interpretation)
}

func TestComputeInvariants(t *testing.T) {
	week := func(score float64) []*database.SentimentWithDate {
		var rows []*database.SentimentWithDate
		for d := 0; d < 7; d++ {
			rows = append(rows, row(d, score))
		}
		return rows
	}

	for _, vix := range []float64{10, 25, 40} {
		pos := Compute(week(1.0), vix, DefaultParams())
		assert.GreaterOrEqual(t, pos.Ratio, 71.0, "all-positive week, vix=%f", vix)

		neg := Compute(week(-1.5), vix, DefaultParams())
		assert.LessOrEqual(t, neg.Ratio, 30.0, "all-negative week, vix=%f", vix)

		neutral := Compute(week(0), vix, DefaultParams())
		assert.GreaterOrEqual(t, neutral.Ratio, 40.0)
		assert.LessOrEqual(t, neutral.Ratio, 60.0)
	}
}

func TestHigherVIXNeverShrinksSignal(t *testing.T) {
	rows := []*database.SentimentWithDate{row(0, 1.0), row(1, 1.0)}
	low := Compute(rows, 12, DefaultParams())
	high := Compute(rows, 38, DefaultParams())
	assert.Greater(t, high.WeeklySignal, low.WeeklySignal)

	negRows := []*database.SentimentWithDate{row(0, -1.5)}
	lowNeg := Compute(negRows, 12, DefaultParams())
	highNeg := Compute(negRows, 38, DefaultParams())
	assert.Less(t, highNeg.WeeklySignal, lowNeg.WeeklySignal)
}

func TestNormalizeLinear(t *testing.T) {
	params := DefaultParams()
	params.Method = MethodLinear

	assert.InDelta(t, 0.0, Normalize(-20, params), 1e-9)   // clamped at -15
	assert.InDelta(t, 100.0, Normalize(15, params), 1e-9)  // clamped at +10
	assert.InDelta(t, 60.0, Normalize(0, params), 1e-9)    // (0-(-15))/25
	assert.InDelta(t, 100.0, Normalize(10, params), 1e-9)
}

func TestGeneratorVIXFallback(t *testing.T) {
	store := &fakeStore{rows: []*database.SentimentWithDate{row(0, 1.0)}}
	g := NewGenerator(store, failingVIX{}, DefaultParams(), 20, logging.Nop())

	result, err := g.Generate(context.Background(), time.Now(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, result.VIX, 1e-9)
	assert.InDelta(t, NormalizeVIX(20), result.VIXNormalized, 1e-9)
}

func TestGeneratorNilVIXSourceUsesNeutral(t *testing.T) {
	store := &fakeStore{}
	g := NewGenerator(store, nil, DefaultParams(), 0, logging.Nop())

	result, err := g.Generate(context.Background(), time.Now(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, result.VIX, 1e-9)
	assert.InDelta(t, 50.0, result.Ratio, 1e-9)
}

func TestHTTPVIXSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"symbol": "^VIX", "price": 17.42})
	}))
	defer srv.Close()

	source := NewHTTPVIXSource(srv.URL)
	vix, err := source.CurrentVIX(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 17.42, vix, 1e-9)
}

func TestHTTPVIXSourceRejectsBadQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"symbol": "^VIX", "price": 0})
	}))
	defer srv.Close()

	_, err := NewHTTPVIXSource(srv.URL).CurrentVIX(context.Background())
	assert.Error(t, err)
}
