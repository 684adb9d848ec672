// Package risk gates every trade behind the user's configured limits:
// trading window, symbol lists, daily-loss governor, position sizing, and
// stop-loss checks.
package risk

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/internal/database"
)

// abnormalVIXThreshold marks the market abnormal above this reading.
const abnormalVIXThreshold = 40.0

// riskMultiplier scales position sizing by risk appetite.
func riskMultiplier(level string) float64 {
	switch level {
	case database.RiskLow:
		return 0.5
	case database.RiskHigh:
		return 1.0
	default:
		return 0.75
	}
}

// Store is the persistence surface the manager needs.
type Store interface {
	SumRealizedPLSince(ctx context.Context, userID string, since time.Time) (float64, error)
	SetAutoTradeEnabled(ctx context.Context, userID string, enabled bool) error
}

// Alerter raises operator alerts. Satisfied by the alerts service.
type Alerter interface {
	Critical(alertType, message string, details map[string]interface{})
}

// Snapshot is the account state a validation runs against.
type Snapshot struct {
	Cash     float64
	Invested float64
	Holdings []*database.AccountHolding
}

// Holding finds a position by symbol.
func (s *Snapshot) Holding(symbol string) *database.AccountHolding {
	for _, h := range s.Holdings {
		if h.Symbol == symbol {
			return h
		}
	}
	return nil
}

// Manager applies the risk rules.
type Manager struct {
	store   Store
	alerter Alerter
	log     zerolog.Logger
	now     func() time.Time
}

// NewManager creates a manager. alerter may be nil.
func NewManager(store Store, alerter Alerter, log zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		alerter: alerter,
		log:     log.With().Str("component", "risk").Logger(),
		now:     time.Now,
	}
}

// ValidateTrade applies the checks in order and returns the first rejection
// reason, or ok=true.
func (m *Manager) ValidateTrade(ctx context.Context, cfg *database.AutoTradeConfig, symbol, side string, qty int64, price float64, snap *Snapshot) (bool, string, error) {
	if !cfg.Enabled {
		return false, "auto trading is disabled", nil
	}

	if ok, reason := m.withinTradingWindow(cfg); !ok {
		return false, reason, nil
	}

	if ok, reason := symbolAllowed(cfg, symbol); !ok {
		return false, reason, nil
	}

	if cfg.DailyLossLimit != nil {
		breached, realized, err := m.dailyLossBreached(ctx, cfg)
		if err != nil {
			return false, "", fmt.Errorf("daily loss check failed: %w", err)
		}
		if breached {
			return false, fmt.Sprintf("daily loss limit breached: realized %.0f, limit %.0f", realized, -math.Abs(*cfg.DailyLossLimit)), nil
		}
	}

	amount := float64(qty) * price
	switch side {
	case database.SideBuy:
		if amount > cfg.MaxPositionSize {
			return false, fmt.Sprintf("order %.0f exceeds max position size %.0f", amount, cfg.MaxPositionSize), nil
		}
		if snap.Invested+amount > cfg.MaxInvestment {
			return false, fmt.Sprintf("order would push invested to %.0f over max investment %.0f", snap.Invested+amount, cfg.MaxInvestment), nil
		}
		if amount > snap.Cash {
			return false, fmt.Sprintf("order %.0f exceeds available cash %.0f", amount, snap.Cash), nil
		}
	case database.SideSell:
		h := snap.Holding(symbol)
		if h == nil {
			return false, fmt.Sprintf("no holding for %s", symbol), nil
		}
		if h.Quantity < qty {
			return false, fmt.Sprintf("holding %d below sell quantity %d", h.Quantity, qty), nil
		}
	default:
		return false, fmt.Sprintf("invalid side %q", side), nil
	}

	return true, "", nil
}

// PositionSize computes the buy quantity for a signal. Price 0 yields 0.
func PositionSize(cfg *database.AutoTradeConfig, price, signalRatio float64, snap *Snapshot) int64 {
	if price <= 0 {
		return 0
	}

	target := cfg.MaxPositionSize * riskMultiplier(cfg.RiskLevel) * (signalRatio / 100)

	if headroom := cfg.MaxInvestment - snap.Invested; target > headroom {
		target = headroom
	}
	if target > snap.Cash {
		target = snap.Cash
	}
	if target <= 0 {
		return 0
	}

	qty := int64(math.Floor(target / price))
	if qty == 0 && target >= price {
		qty = 1
	}
	return qty
}

// StopLossAction describes a triggered stop-loss.
type StopLossAction struct {
	Symbol   string
	Quantity int64
	LossPct  float64
	Reason   string
}

// CheckStopLoss returns a full-quantity sell action when the holding has
// fallen past the configured loss percentage.
func CheckStopLoss(cfg *database.AutoTradeConfig, symbol string, currentPrice float64, snap *Snapshot) *StopLossAction {
	h := snap.Holding(symbol)
	if h == nil || h.AvgCost <= 0 || currentPrice <= 0 {
		return nil
	}

	changePct := ((currentPrice - h.AvgCost) / h.AvgCost) * 100
	if changePct > -math.Abs(cfg.StopLossPct) {
		return nil
	}

	return &StopLossAction{
		Symbol:   symbol,
		Quantity: h.Quantity,
		LossPct:  changePct,
		Reason:   fmt.Sprintf("STOP-LOSS: %s down %.2f%% from avg cost %.0f", symbol, -changePct, h.AvgCost),
	}
}

// DetectAbnormalMarket reports whether the VIX reading indicates a panicked
// market.
func DetectAbnormalMarket(vix float64) bool {
	return vix > abnormalVIXThreshold
}

// EmergencyStop disables trading for the user and raises a CRITICAL alert.
func (m *Manager) EmergencyStop(ctx context.Context, cfg *database.AutoTradeConfig, reason string) error {
	if err := m.store.SetAutoTradeEnabled(ctx, cfg.UserID, false); err != nil {
		return fmt.Errorf("failed to disable trading: %w", err)
	}
	cfg.Enabled = false

	m.log.Error().Str("user_id", cfg.UserID).Str("reason", reason).Msg("emergency stop")
	if m.alerter != nil {
		m.alerter.Critical("emergency_stop", "auto trading halted: "+reason, map[string]interface{}{
			"user_id": cfg.UserID,
			"reason":  reason,
		})
	}
	return nil
}

// dailyLossBreached sums today's realized P/L against the limit.
func (m *Manager) dailyLossBreached(ctx context.Context, cfg *database.AutoTradeConfig) (bool, float64, error) {
	now := m.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	realized, err := m.store.SumRealizedPLSince(ctx, cfg.UserID, midnight.UTC())
	if err != nil {
		return false, 0, err
	}
	return realized < -math.Abs(*cfg.DailyLossLimit), realized, nil
}

// withinTradingWindow checks the local clock against [trading_start,
// trading_end].
func (m *Manager) withinTradingWindow(cfg *database.AutoTradeConfig) (bool, string) {
	start, err := parseClock(cfg.TradingStart)
	if err != nil {
		return false, fmt.Sprintf("invalid trading_start %q", cfg.TradingStart)
	}
	end, err := parseClock(cfg.TradingEnd)
	if err != nil {
		return false, fmt.Sprintf("invalid trading_end %q", cfg.TradingEnd)
	}

	now := m.now()
	minutes := now.Hour()*60 + now.Minute()
	if minutes < start || minutes > end {
		return false, fmt.Sprintf("outside trading window %s-%s", cfg.TradingStart, cfg.TradingEnd)
	}
	return true, ""
}

func symbolAllowed(cfg *database.AutoTradeConfig, symbol string) (bool, string) {
	for _, excluded := range cfg.ExcludedSymbols {
		if excluded == symbol {
			return false, fmt.Sprintf("%s is excluded", symbol)
		}
	}
	if len(cfg.AllowedSymbols) > 0 {
		for _, allowed := range cfg.AllowedSymbols {
			if allowed == symbol {
				return true, ""
			}
		}
		return false, fmt.Sprintf("%s is not in the allowed list", symbol)
	}
	return true, ""
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour*60 + minute, nil
}
