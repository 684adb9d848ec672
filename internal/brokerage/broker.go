// Package brokerage abstracts order execution and account queries behind a
// Broker interface, with a KIS-style REST implementation and a deterministic
// mock.
package brokerage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// TradeResult statuses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Typed errors for caller branching.
var (
	ErrAuthFailed      = errors.New("brokerage authentication failed")
	ErrSymbolNotFound  = errors.New("symbol not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Order is one order submission.
type Order struct {
	Symbol   string
	Side     string
	Quantity int64
	Price    float64 // 0 for market orders
}

// TradeResult is the outcome of an order. PlaceOrder returns a FAILED result
// rather than an error so callers can always record the attempt.
type TradeResult struct {
	OrderID       string
	Symbol        string
	Side          string
	Quantity      int64
	ExecutedPrice float64
	TotalAmount   float64
	Status        string
	Message       string
	ExecutedAt    time.Time
}

// Quote is one live price snapshot.
type Quote struct {
	Symbol string
	Price  float64
	Open   float64
	High   float64
	Low    float64
	Volume int64
}

// AccountInfo is the account cash summary.
type AccountInfo struct {
	Cash          float64
	Invested      float64
	TotalValue    float64
}

// Holding is one brokerage-side position.
type Holding struct {
	Symbol       string
	Quantity     int64
	AvgCost      float64
	CurrentPrice float64
}

// OrderStatus reports the state of a previously placed order.
type OrderStatus struct {
	OrderID        string
	Status         string
	FilledQuantity int64
	AveragePrice   float64
}

// Broker is the capability set the engine depends on.
type Broker interface {
	Authenticate(ctx context.Context) error
	GetStockPrice(ctx context.Context, symbol string) (*Quote, error)
	GetAccountBalance(ctx context.Context) (*AccountInfo, error)
	GetAccountHoldings(ctx context.Context) ([]*Holding, error)
	PlaceOrder(ctx context.Context, order Order) (*TradeResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
}

// failedResult builds the FAILED TradeResult for a rejected order. The
// submitted price is carried so the attempt record is never zero-priced for
// limit orders.
func failedResult(order Order, message string) *TradeResult {
	price := order.Price
	if price <= 0 {
		price = 1 // market order with no known price; placeholder for the record
	}
	return &TradeResult{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		ExecutedPrice: price,
		TotalAmount:   0,
		Status:        StatusFailed,
		Message:       message,
		ExecutedAt:    time.Now().UTC(),
	}
}

func validateOrder(order Order) error {
	if order.Symbol == "" {
		return fmt.Errorf("order symbol is required")
	}
	if order.Side != SideBuy && order.Side != SideSell {
		return fmt.Errorf("invalid order side %q", order.Side)
	}
	if order.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive")
	}
	return nil
}
