// Package engine turns weekly signals into orders. Every decision is gated by
// the risk manager, every order attempt is recorded, and all holding-mutating
// work for a user runs under that user's lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/internal/alerts"
	"sentiment-trading-bot/internal/brokerage"
	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/events"
	"sentiment-trading-bot/internal/risk"
)

// Outcome classifies what ProcessSignal did with a signal.
type Outcome string

const (
	// OutcomeNone means auto trading is off or unconfigured for the user.
	OutcomeNone Outcome = "NONE"
	// OutcomeHeld means the signal fell between the thresholds.
	OutcomeHeld Outcome = "HELD"
	// OutcomeRejected means the risk checks refused the trade.
	OutcomeRejected Outcome = "REJECTED"
	// OutcomeExecuted means the order completed and the books are updated.
	OutcomeExecuted Outcome = "EXECUTED"
	// OutcomeFailed means the order was attempted but did not complete.
	OutcomeFailed Outcome = "FAILED"
)

// Result describes one signal-processing decision.
type Result struct {
	Outcome  Outcome
	Symbol   string
	Side     string
	Quantity int64
	Price    float64
	Reason   string
	Trade    *database.TradeHistory
}

// Engine executes trades for the users whose configs enable it.
type Engine struct {
	repo    *database.Repository
	broker  brokerage.Broker
	risk    *risk.Manager
	alerter *alerts.Service
	bus     *events.Bus
	log     zerolog.Logger

	users *registry
}

// New creates an engine. alerter and bus may be nil.
func New(repo *database.Repository, broker brokerage.Broker, riskMgr *risk.Manager, alerter *alerts.Service, bus *events.Bus, log zerolog.Logger) *Engine {
	return &Engine{
		repo:    repo,
		broker:  broker,
		risk:    riskMgr,
		alerter: alerter,
		bus:     bus,
		log:     log.With().Str("component", "engine").Logger(),
		users:   newRegistry(),
	}
}

// Start enables trading for a user. Idempotent.
func (e *Engine) Start(ctx context.Context, userID string) error {
	if _, err := e.repo.GetAutoTradeConfig(ctx, userID); err != nil {
		return fmt.Errorf("cannot start trading for %s: %w", userID, err)
	}
	if err := e.repo.SetAutoTradeEnabled(ctx, userID, true); err != nil {
		return err
	}

	state := e.users.get(userID)
	state.mu.Lock()
	state.running = true
	state.mu.Unlock()

	e.log.Info().Str("user_id", userID).Msg("auto trading started")
	return nil
}

// Stop disables trading for a user. Idempotent.
func (e *Engine) Stop(ctx context.Context, userID string) error {
	if err := e.repo.SetAutoTradeEnabled(ctx, userID, false); err != nil {
		return err
	}

	state := e.users.get(userID)
	state.mu.Lock()
	state.running = false
	state.mu.Unlock()

	e.log.Info().Str("user_id", userID).Msg("auto trading stopped")
	return nil
}

// Running reports whether the user's engine loop is active.
func (e *Engine) Running(userID string) bool {
	state := e.users.get(userID)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.running
}

// LastCheckTime returns when positions were last monitored for the user.
func (e *Engine) LastCheckTime(userID string) time.Time {
	state := e.users.get(userID)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.lastCheckTime
}

// ProcessSignal applies one signal to one user's account.
//
// Decision: ratio at or above the buy threshold buys, at or below the sell
// threshold sells the full position, anything between holds. Order failures
// come back as FAILED results with the attempt recorded in trade history, not
// as errors.
func (e *Engine) ProcessSignal(ctx context.Context, userID, symbol string, ratio float64, reasoning string) (*Result, error) {
	cfg, err := e.repo.GetAutoTradeConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return &Result{Outcome: OutcomeNone, Symbol: symbol, Reason: "no trading config"}, nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.Enabled {
		return &Result{Outcome: OutcomeNone, Symbol: symbol, Reason: "auto trading is disabled"}, nil
	}

	var side string
	switch {
	case ratio >= cfg.BuyThreshold:
		side = database.SideBuy
	case ratio <= cfg.SellThreshold:
		side = database.SideSell
	default:
		return &Result{
			Outcome: OutcomeHeld,
			Symbol:  symbol,
			Reason:  fmt.Sprintf("signal %.2f between thresholds %.0f and %.0f", ratio, cfg.SellThreshold, cfg.BuyThreshold),
		}, nil
	}

	state := e.users.get(userID)
	state.mu.Lock()
	defer state.mu.Unlock()

	quote, err := e.broker.GetStockPrice(ctx, symbol)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", symbol).Msg("price lookup failed")
		if e.bus != nil {
			e.bus.PublishError("engine", "price lookup failed", err)
		}
		return &Result{
			Outcome: OutcomeFailed,
			Symbol:  symbol,
			Side:    side,
			Reason:  fmt.Sprintf("price lookup failed: %v", err),
		}, nil
	}

	snap, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("account snapshot: %w", err)
	}

	if side == database.SideBuy {
		return e.executeBuy(ctx, cfg, symbol, quote.Price, ratio, reasoning, snap)
	}
	return e.executeSell(ctx, cfg, symbol, quote.Price, ratio, reasoning, snap)
}

// executeBuy sizes, validates, submits, and records a buy.
func (e *Engine) executeBuy(ctx context.Context, cfg *database.AutoTradeConfig, symbol string, price, ratio float64, reasoning string, snap *risk.Snapshot) (*Result, error) {
	qty := risk.PositionSize(cfg, price, ratio, snap)
	if qty <= 0 {
		return &Result{
			Outcome: OutcomeRejected,
			Symbol:  symbol,
			Side:    database.SideBuy,
			Price:   price,
			Reason:  "position size came out to zero shares",
		}, nil
	}

	ok, reason, err := e.risk.ValidateTrade(ctx, cfg, symbol, database.SideBuy, qty, price, snap)
	if err != nil {
		return nil, fmt.Errorf("risk validation: %w", err)
	}
	if !ok {
		e.log.Warn().Str("user_id", cfg.UserID).Str("symbol", symbol).Str("reason", reason).Msg("buy rejected")
		return &Result{Outcome: OutcomeRejected, Symbol: symbol, Side: database.SideBuy, Quantity: qty, Price: price, Reason: reason}, nil
	}

	res, err := e.broker.PlaceOrder(ctx, brokerage.Order{
		Symbol:   symbol,
		Side:     brokerage.SideBuy,
		Quantity: qty,
		Price:    price,
	})
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	trade := tradeFromResult(cfg.UserID, res, price, ratio, reasoning)
	if err := e.repo.RecordBuy(ctx, trade); err != nil {
		return nil, fmt.Errorf("record buy: %w", err)
	}

	return e.finishTrade(cfg.UserID, trade, res), nil
}

// executeSell liquidates the full held position.
func (e *Engine) executeSell(ctx context.Context, cfg *database.AutoTradeConfig, symbol string, price, ratio float64, reasoning string, snap *risk.Snapshot) (*Result, error) {
	holding := snap.Holding(symbol)
	if holding == nil {
		return &Result{
			Outcome: OutcomeRejected,
			Symbol:  symbol,
			Side:    database.SideSell,
			Price:   price,
			Reason:  fmt.Sprintf("no holding for %s", symbol),
		}, nil
	}
	qty := holding.Quantity

	ok, reason, err := e.risk.ValidateTrade(ctx, cfg, symbol, database.SideSell, qty, price, snap)
	if err != nil {
		return nil, fmt.Errorf("risk validation: %w", err)
	}
	if !ok {
		e.log.Warn().Str("user_id", cfg.UserID).Str("symbol", symbol).Str("reason", reason).Msg("sell rejected")
		return &Result{Outcome: OutcomeRejected, Symbol: symbol, Side: database.SideSell, Quantity: qty, Price: price, Reason: reason}, nil
	}

	res, err := e.broker.PlaceOrder(ctx, brokerage.Order{
		Symbol:   symbol,
		Side:     brokerage.SideSell,
		Quantity: qty,
		Price:    price,
	})
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	trade := tradeFromResult(cfg.UserID, res, price, ratio, reasoning)
	if res.Status == brokerage.StatusCompleted {
		pl := (res.ExecutedPrice - holding.AvgCost) * float64(res.Quantity)
		trade.ProfitLoss = &pl
	}
	if err := e.repo.RecordSell(ctx, trade); err != nil {
		return nil, fmt.Errorf("record sell: %w", err)
	}

	return e.finishTrade(cfg.UserID, trade, res), nil
}

// MonitorPositions refreshes prices for every holding and liquidates any
// position past its stop-loss. Price failures on one symbol never block the
// rest.
func (e *Engine) MonitorPositions(ctx context.Context, userID string) ([]*Result, error) {
	cfg, err := e.repo.GetAutoTradeConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	state := e.users.get(userID)
	state.mu.Lock()
	defer state.mu.Unlock()

	holdings, err := e.repo.GetHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}

	snap := &risk.Snapshot{Holdings: holdings}
	for _, h := range holdings {
		snap.Invested += float64(h.Quantity) * h.AvgCost
	}

	var results []*Result
	for _, h := range holdings {
		quote, err := e.broker.GetStockPrice(ctx, h.Symbol)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", h.Symbol).Msg("monitor price lookup failed")
			continue
		}
		if err := e.repo.UpdateHoldingPrice(ctx, userID, h.Symbol, quote.Price); err != nil {
			e.log.Warn().Err(err).Str("symbol", h.Symbol).Msg("holding price update failed")
		}

		action := risk.CheckStopLoss(cfg, h.Symbol, quote.Price, snap)
		if action == nil {
			continue
		}

		result, err := e.liquidate(ctx, cfg, h, quote.Price, action)
		if err != nil {
			e.log.Error().Err(err).Str("symbol", h.Symbol).Msg("stop-loss liquidation failed")
			continue
		}
		results = append(results, result)
	}

	state.lastCheckTime = time.Now()
	return results, nil
}

// liquidate sells the full position on a triggered stop-loss. The sale is
// protective, so it skips the trading-window and threshold gates.
func (e *Engine) liquidate(ctx context.Context, cfg *database.AutoTradeConfig, h *database.AccountHolding, price float64, action *risk.StopLossAction) (*Result, error) {
	res, err := e.broker.PlaceOrder(ctx, brokerage.Order{
		Symbol:   h.Symbol,
		Side:     brokerage.SideSell,
		Quantity: action.Quantity,
		Price:    price,
	})
	if err != nil {
		return nil, err
	}

	trade := tradeFromResult(cfg.UserID, res, price, 0, action.Reason)
	if res.Status == brokerage.StatusCompleted {
		pl := (res.ExecutedPrice - h.AvgCost) * float64(res.Quantity)
		trade.ProfitLoss = &pl
	}
	if err := e.repo.RecordSell(ctx, trade); err != nil {
		return nil, err
	}

	if res.Status == brokerage.StatusCompleted {
		if e.alerter != nil {
			e.alerter.Critical("stop_loss", action.Reason, map[string]interface{}{
				"user_id":  cfg.UserID,
				"symbol":   h.Symbol,
				"quantity": action.Quantity,
				"loss_pct": action.LossPct,
			})
		}
		if e.bus != nil {
			e.bus.PublishStopLoss(cfg.UserID, h.Symbol, action.Quantity, action.LossPct)
		}
	}
	return e.finishTrade(cfg.UserID, trade, res), nil
}

// SyncHoldings replaces the stored holdings with the brokerage's view.
func (e *Engine) SyncHoldings(ctx context.Context, userID string) error {
	state := e.users.get(userID)
	state.mu.Lock()
	defer state.mu.Unlock()

	remote, err := e.broker.GetAccountHoldings(ctx)
	if err != nil {
		return fmt.Errorf("fetch brokerage holdings: %w", err)
	}

	holdings := make([]*database.AccountHolding, 0, len(remote))
	for _, h := range remote {
		holdings = append(holdings, &database.AccountHolding{
			UserID:       userID,
			Symbol:       h.Symbol,
			Quantity:     h.Quantity,
			AvgCost:      h.AvgCost,
			CurrentPrice: h.CurrentPrice,
		})
	}
	if err := e.repo.ReplaceHoldings(ctx, userID, holdings); err != nil {
		return fmt.Errorf("replace holdings: %w", err)
	}

	e.log.Info().Str("user_id", userID).Int("holdings", len(holdings)).Msg("holdings synced from brokerage")
	return nil
}

// snapshot builds the account view risk checks run against. Cash comes from
// the brokerage; invested capital from the stored holdings at average cost.
func (e *Engine) snapshot(ctx context.Context, userID string) (*risk.Snapshot, error) {
	holdings, err := e.repo.GetHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap := &risk.Snapshot{Holdings: holdings}
	for _, h := range holdings {
		snap.Invested += float64(h.Quantity) * h.AvgCost
	}

	account, err := e.broker.GetAccountBalance(ctx)
	if err != nil {
		return nil, err
	}
	snap.Cash = account.Cash
	return snap, nil
}

// finishTrade emits the alert and event for a recorded trade and builds the
// result.
func (e *Engine) finishTrade(userID string, trade *database.TradeHistory, res *brokerage.TradeResult) *Result {
	if res.Status == brokerage.StatusCompleted {
		e.log.Info().
			Str("user_id", userID).
			Str("symbol", trade.Symbol).
			Str("side", trade.Side).
			Int64("quantity", trade.Quantity).
			Float64("price", trade.ExecutedPrice).
			Msg("trade executed")
		if e.alerter != nil {
			e.alerter.Info("trade_executed", fmt.Sprintf("%s %d %s @ %.0f", trade.Side, trade.Quantity, trade.Symbol, trade.ExecutedPrice), map[string]interface{}{
				"user_id":  userID,
				"order_id": trade.OrderID,
			})
		}
		if e.bus != nil {
			e.bus.PublishTradeExecuted(userID, trade.Symbol, trade.Side, trade.Quantity, trade.ExecutedPrice)
		}
		return &Result{
			Outcome:  OutcomeExecuted,
			Symbol:   trade.Symbol,
			Side:     trade.Side,
			Quantity: trade.Quantity,
			Price:    trade.ExecutedPrice,
			Reason:   trade.Reasoning,
			Trade:    trade,
		}
	}

	e.log.Error().
		Str("user_id", userID).
		Str("symbol", trade.Symbol).
		Str("side", trade.Side).
		Str("message", res.Message).
		Msg("trade failed")
	if e.alerter != nil {
		e.alerter.Error("trade_failed", fmt.Sprintf("%s %s failed: %s", trade.Side, trade.Symbol, res.Message), map[string]interface{}{
			"user_id": userID,
		})
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type: events.EventTradeFailed,
			Data: map[string]interface{}{
				"user_id": userID,
				"symbol":  trade.Symbol,
				"side":    trade.Side,
				"message": res.Message,
			},
		})
	}
	return &Result{
		Outcome:  OutcomeFailed,
		Symbol:   trade.Symbol,
		Side:     trade.Side,
		Quantity: trade.Quantity,
		Price:    trade.ExecutedPrice,
		Reason:   res.Message,
		Trade:    trade,
	}
}

// tradeFromResult maps a brokerage result to a history row.
func tradeFromResult(userID string, res *brokerage.TradeResult, submittedPrice, ratio float64, reasoning string) *database.TradeHistory {
	return &database.TradeHistory{
		UserID:         userID,
		OrderID:        res.OrderID,
		Symbol:         res.Symbol,
		Side:           res.Side,
		Quantity:       res.Quantity,
		SubmittedPrice: submittedPrice,
		ExecutedPrice:  res.ExecutedPrice,
		TotalAmount:    res.TotalAmount,
		Status:         res.Status,
		SignalRatio:    ratio,
		Reasoning:      reasoning,
		ExecutedAt:     res.ExecutedAt,
	}
}
