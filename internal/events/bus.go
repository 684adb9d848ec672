// Package events provides an in-process publish/subscribe bus connecting the
// pipeline stages: news collection, signal generation, trade execution, and
// alerting.
package events

import (
	"sync"
	"time"
)

// EventType identifies a system event.
type EventType string

const (
	EventNewsCollected     EventType = "NEWS_COLLECTED"
	EventSignalGenerated   EventType = "SIGNAL_GENERATED"
	EventTradeExecuted     EventType = "TRADE_EXECUTED"
	EventTradeFailed       EventType = "TRADE_FAILED"
	EventStopLossTriggered EventType = "STOP_LOSS_TRIGGERED"
	EventEmergencyStop     EventType = "EMERGENCY_STOP"
	EventAbnormalMarket    EventType = "ABNORMAL_MARKET"
	EventAlertRaised       EventType = "ALERT_RAISED"
	EventError             EventType = "ERROR"
)

// Event is one published occurrence.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles events. Subscribers run on their own goroutines so a
// slow handler never blocks a publisher.
type Subscriber func(Event)

// Bus manages subscriptions and delivery.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishNewsCollected reports a completed collection pass.
func (b *Bus) PublishNewsCollected(stored, skipped int) {
	b.Publish(Event{
		Type: EventNewsCollected,
		Data: map[string]interface{}{
			"stored":  stored,
			"skipped": skipped,
		},
	})
}

// PublishSignalGenerated reports a fresh weekly signal.
func (b *Bus) PublishSignalGenerated(ratio float64, interpretation string, articles int) {
	b.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"ratio":          ratio,
			"interpretation": interpretation,
			"articles":       articles,
		},
	})
}

// PublishTradeExecuted reports a completed order.
func (b *Bus) PublishTradeExecuted(userID, symbol, side string, quantity int64, price float64) {
	b.Publish(Event{
		Type: EventTradeExecuted,
		Data: map[string]interface{}{
			"user_id":  userID,
			"symbol":   symbol,
			"side":     side,
			"quantity": quantity,
			"price":    price,
		},
	})
}

// PublishStopLoss reports a stop-loss liquidation.
func (b *Bus) PublishStopLoss(userID, symbol string, quantity int64, lossPct float64) {
	b.Publish(Event{
		Type: EventStopLossTriggered,
		Data: map[string]interface{}{
			"user_id":  userID,
			"symbol":   symbol,
			"quantity": quantity,
			"loss_pct": lossPct,
		},
	})
}

// PublishEmergencyStop reports trading halted for a user.
func (b *Bus) PublishEmergencyStop(userID, reason string) {
	b.Publish(Event{
		Type: EventEmergencyStop,
		Data: map[string]interface{}{
			"user_id": userID,
			"reason":  reason,
		},
	})
}

// PublishError reports a component failure.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
