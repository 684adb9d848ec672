package brokerage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBroker is a deterministic in-memory broker for development, tests, and
// dry runs. Orders fill instantly at the configured price.
type MockBroker struct {
	mu       sync.Mutex
	cash     float64
	prices   map[string]float64
	holdings map[string]*Holding
	orders   map[string]*OrderStatus
	orderSeq int
	failNext string // next PlaceOrder fails with this message
}

// NewMockBroker creates a mock with starting cash.
func NewMockBroker(cash float64) *MockBroker {
	return &MockBroker{
		cash:     cash,
		prices:   make(map[string]float64),
		holdings: make(map[string]*Holding),
		orders:   make(map[string]*OrderStatus),
	}
}

// SetPrice fixes a symbol's quote.
func (m *MockBroker) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
}

// SetHolding seeds a position.
func (m *MockBroker) SetHolding(symbol string, quantity int64, avgCost float64) {
	m.mu.Lock()
	m.holdings[symbol] = &Holding{Symbol: symbol, Quantity: quantity, AvgCost: avgCost, CurrentPrice: m.prices[symbol]}
	m.mu.Unlock()
}

// FailNextOrder makes the next PlaceOrder return a FAILED result.
func (m *MockBroker) FailNextOrder(message string) {
	m.mu.Lock()
	m.failNext = message
	m.mu.Unlock()
}

func (m *MockBroker) Authenticate(context.Context) error { return nil }

func (m *MockBroker) GetStockPrice(_ context.Context, symbol string) (*Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return &Quote{Symbol: symbol, Price: price, Open: price, High: price, Low: price}, nil
}

func (m *MockBroker) GetAccountBalance(context.Context) (*AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var invested float64
	for _, h := range m.holdings {
		price := m.prices[h.Symbol]
		if price <= 0 {
			price = h.AvgCost
		}
		invested += float64(h.Quantity) * price
	}
	return &AccountInfo{Cash: m.cash, Invested: invested, TotalValue: m.cash + invested}, nil
}

func (m *MockBroker) GetAccountHoldings(context.Context) ([]*Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Holding, 0, len(m.holdings))
	for _, h := range m.holdings {
		copied := *h
		copied.CurrentPrice = m.prices[h.Symbol]
		out = append(out, &copied)
	}
	return out, nil
}

func (m *MockBroker) PlaceOrder(_ context.Context, order Order) (*TradeResult, error) {
	if err := validateOrder(order); err != nil {
		return failedResult(order, err.Error()), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext != "" {
		message := m.failNext
		m.failNext = ""
		return failedResult(order, message), nil
	}

	price, ok := m.prices[order.Symbol]
	if !ok || price <= 0 {
		return failedResult(order, fmt.Sprintf("no quote for %s", order.Symbol)), nil
	}
	total := price * float64(order.Quantity)

	switch order.Side {
	case SideBuy:
		if total > m.cash {
			return failedResult(order, ErrInsufficientFunds.Error()), nil
		}
		m.cash -= total
		if h, held := m.holdings[order.Symbol]; held {
			newQty := h.Quantity + order.Quantity
			h.AvgCost = (h.AvgCost*float64(h.Quantity) + total) / float64(newQty)
			h.Quantity = newQty
		} else {
			m.holdings[order.Symbol] = &Holding{Symbol: order.Symbol, Quantity: order.Quantity, AvgCost: price}
		}
	case SideSell:
		h, held := m.holdings[order.Symbol]
		if !held || h.Quantity < order.Quantity {
			return failedResult(order, "insufficient holding"), nil
		}
		m.cash += total
		h.Quantity -= order.Quantity
		if h.Quantity == 0 {
			delete(m.holdings, order.Symbol)
		}
	}

	m.orderSeq++
	orderID := fmt.Sprintf("MOCK-%06d", m.orderSeq)
	m.orders[orderID] = &OrderStatus{
		OrderID:        orderID,
		Status:         StatusCompleted,
		FilledQuantity: order.Quantity,
		AveragePrice:   price,
	}

	return &TradeResult{
		OrderID:       orderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		ExecutedPrice: price,
		TotalAmount:   total,
		Status:        StatusCompleted,
		ExecutedAt:    time.Now().UTC(),
	}, nil
}

func (m *MockBroker) CancelOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return nil
}

func (m *MockBroker) GetOrderStatus(_ context.Context, orderID string) (*OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	copied := *status
	return &copied, nil
}
