// Package signal turns a window of sentiment scores plus market volatility
// into a 0-100 buy/sell ratio.
package signal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/internal/database"
)

// Interpretation bands.
const (
	StrongSell = "Strong Sell"
	Neutral    = "Neutral"
	StrongBuy  = "Strong Buy"
)

// VIX normalization bounds. Readings are clamped to this band before linear
// mapping to [0, 1].
const (
	vixFloor = 10.0
	vixCeil  = 40.0
)

// Method selects the ratio normalization.
type Method string

const (
	MethodSigmoid Method = "sigmoid"
	MethodLinear  Method = "linear"
)

// Params holds the normalization constants. The defaults are empirical, not
// derived; deployments can tune them without code changes.
type Params struct {
	Method    Method
	Steepness float64 // sigmoid slope
	Center    float64 // sigmoid midpoint
	LinearMin float64 // linear clamp lower bound
	LinearMax float64 // linear clamp upper bound
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		Method:    MethodSigmoid,
		Steepness: 0.3,
		Center:    0.0,
		LinearMin: -15.0,
		LinearMax: 10.0,
	}
}

// VIXSource provides the latest volatility index reading.
type VIXSource interface {
	CurrentVIX(ctx context.Context) (float64, error)
}

// SentimentStore provides the sentiment rows for a window.
type SentimentStore interface {
	GetSentimentsBetween(ctx context.Context, from, to time.Time) ([]*database.SentimentWithDate, error)
}

// Result is one generated signal.
type Result struct {
	Ratio          float64   `json:"ratio"`
	Interpretation string    `json:"interpretation"`
	WeeklySignal   float64   `json:"weekly_signal"`
	VIX            float64   `json:"vix"`
	VIXNormalized  float64   `json:"vix_normalized"`
	DailyScores    []float64 `json:"daily_scores"`
	ArticleCount   int       `json:"article_count"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Generator computes signals from stored sentiments.
type Generator struct {
	store      SentimentStore
	vix        VIXSource
	params     Params
	neutralVIX float64
	log        zerolog.Logger
}

// NewGenerator creates a generator. neutralVIX is the fallback reading when
// the source fails; pass 0 for the default of 20.
func NewGenerator(store SentimentStore, vix VIXSource, params Params, neutralVIX float64, log zerolog.Logger) *Generator {
	if params.Steepness == 0 {
		params = DefaultParams()
	}
	if neutralVIX <= 0 {
		neutralVIX = 20.0
	}
	return &Generator{
		store:      store,
		vix:        vix,
		params:     params,
		neutralVIX: neutralVIX,
		log:        log.With().Str("component", "signal").Logger(),
	}
}

// Generate computes the signal for the window ending at end (default: last 7
// days). With no sentiments in the window the ratio is a flat 50.
func (g *Generator) Generate(ctx context.Context, end time.Time, window time.Duration) (*Result, error) {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	end = end.UTC()
	start := end.Add(-window)

	sentiments, err := g.store.GetSentimentsBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentiments: %w", err)
	}

	vix := g.fetchVIX(ctx)
	result := Compute(sentiments, vix, g.params)
	result.WindowStart = start
	result.WindowEnd = end
	result.GeneratedAt = time.Now().UTC()

	g.log.Info().
		Float64("ratio", result.Ratio).
		Str("interpretation", result.Interpretation).
		Float64("weekly_signal", result.WeeklySignal).
		Float64("vix", result.VIX).
		Int("articles", result.ArticleCount).
		Msg("signal generated")
	return result, nil
}

func (g *Generator) fetchVIX(ctx context.Context) float64 {
	if g.vix == nil {
		return g.neutralVIX
	}
	vix, err := g.vix.CurrentVIX(ctx)
	if err != nil {
		g.log.Warn().Err(err).Float64("fallback", g.neutralVIX).Msg("vix fetch failed, using neutral value")
		return g.neutralVIX
	}
	return vix
}

// Compute runs the aggregation pipeline over already-loaded sentiments.
func Compute(sentiments []*database.SentimentWithDate, vix float64, params Params) *Result {
	result := &Result{VIX: vix, VIXNormalized: NormalizeVIX(vix)}

	if len(sentiments) == 0 {
		result.Ratio = 50
		result.Interpretation = Neutral
		return result
	}

	// Group by calendar day, then average within each day.
	byDay := make(map[string][]float64)
	var days []string
	for _, s := range sentiments {
		day := s.PublishedDate.UTC().Format("2006-01-02")
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], s.Score)
		result.ArticleCount++
	}
	sort.Strings(days)

	var sum float64
	for _, day := range days {
		scores := byDay[day]
		var daily float64
		for _, score := range scores {
			daily += score
		}
		daily /= float64(len(scores))
		result.DailyScores = append(result.DailyScores, daily)
		sum += daily
	}

	result.WeeklySignal = sum * (1 + result.VIXNormalized)
	result.Ratio = Normalize(result.WeeklySignal, params)
	result.Interpretation = Interpret(result.Ratio)
	return result
}

// NormalizeVIX clamps a VIX reading to [10, 40] and maps it to [0, 1].
func NormalizeVIX(vix float64) float64 {
	if vix < vixFloor {
		vix = vixFloor
	}
	if vix > vixCeil {
		vix = vixCeil
	}
	return (vix - vixFloor) / (vixCeil - vixFloor)
}

// Normalize maps a raw weekly signal to [0, 100].
func Normalize(signal float64, params Params) float64 {
	switch params.Method {
	case MethodLinear:
		s := signal
		if s < params.LinearMin {
			s = params.LinearMin
		}
		if s > params.LinearMax {
			s = params.LinearMax
		}
		return (s - params.LinearMin) / (params.LinearMax - params.LinearMin) * 100
	default:
		return 100 / (1 + math.Exp(-params.Steepness*(signal-params.Center)))
	}
}

// Interpret maps a ratio to its band.
func Interpret(ratio float64) string {
	switch {
	case ratio <= 30:
		return StrongSell
	case ratio >= 71:
		return StrongBuy
	default:
		return Neutral
	}
}
