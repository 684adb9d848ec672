package brokerage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-trading-bot/config"
	"sentiment-trading-bot/internal/logging"
)

func TestMockBrokerBuySellRoundTrip(t *testing.T) {
	m := NewMockBroker(1_000_000)
	m.SetPrice("005930", 75_000)
	ctx := context.Background()

	result, err := m.PlaceOrder(ctx, Order{Symbol: "005930", Side: SideBuy, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.InDelta(t, 75_000.0, result.ExecutedPrice, 1e-9)
	assert.InDelta(t, 750_000.0, result.TotalAmount, 1e-9)
	assert.NotEmpty(t, result.OrderID)

	balance, err := m.GetAccountBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 250_000.0, balance.Cash, 1e-9)

	holdings, err := m.GetAccountHoldings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(10), holdings[0].Quantity)

	result, err = m.PlaceOrder(ctx, Order{Symbol: "005930", Side: SideSell, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	holdings, err = m.GetAccountHoldings(ctx)
	require.NoError(t, err)
	assert.Empty(t, holdings)

	status, err := m.GetOrderStatus(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), status.FilledQuantity)
}

func TestMockBrokerFailuresAreResultsNotErrors(t *testing.T) {
	m := NewMockBroker(1_000)
	m.SetPrice("005930", 75_000)
	ctx := context.Background()

	// Insufficient funds.
	result, err := m.PlaceOrder(ctx, Order{Symbol: "005930", Side: SideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Greater(t, result.ExecutedPrice, 0.0)

	// Unknown symbol.
	result, err = m.PlaceOrder(ctx, Order{Symbol: "NOPE", Side: SideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	// Selling more than held.
	result, err = m.PlaceOrder(ctx, Order{Symbol: "005930", Side: SideSell, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	// Invalid order shape.
	result, err = m.PlaceOrder(ctx, Order{Symbol: "005930", Side: "SHORT", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	// Injected failure.
	m.FailNextOrder("exchange halted")
	result, err = m.PlaceOrder(ctx, Order{Symbol: "005930", Side: SideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "exchange halted", result.Message)
}

// kisTestServer serves the token endpoint plus a quote endpoint and counts
// token requests.
func kisTestServer(t *testing.T, expiresIn int) (*httptest.Server, *int) {
	t.Helper()
	var mu sync.Mutex
	tokenCalls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			mu.Lock()
			tokenCalls++
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok",
				"expires_in":   expiresIn,
			})
		case "/uapi/domestic-stock/v1/quotations/inquire-price":
			assert.NotEmpty(t, r.Header.Get("authorization"))
			assert.NotEmpty(t, r.Header.Get("tr_id"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"rt_cd": "0",
				"output": map[string]string{
					"stck_prpr": "75000",
					"stck_oprc": "74000",
					"stck_hgpr": "75500",
					"stck_lwpr": "73800",
					"acml_vol":  "123456",
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func newKIS(srvURL string) *KISBroker {
	return NewKISBroker(config.BrokerageConfig{
		Provider:  "kis",
		BaseURL:   srvURL,
		AppKey:    "app",
		AppSecret: "secret",
		Account:   "12345678",
		Sandbox:   true,
	}, logging.Nop())
}

func TestKISTokenReuseWhileValid(t *testing.T) {
	srv, tokenCalls := kisTestServer(t, 3600)
	b := newKIS(srv.URL)
	ctx := context.Background()

	quote, err := b.GetStockPrice(ctx, "005930")
	require.NoError(t, err)
	assert.InDelta(t, 75_000.0, quote.Price, 1e-9)
	assert.InDelta(t, 74_000.0, quote.Open, 1e-9)
	assert.Equal(t, int64(123456), quote.Volume)

	_, err = b.GetStockPrice(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, 1, *tokenCalls, "token fetched once while valid")
}

func TestKISTokenRefreshNearExpiry(t *testing.T) {
	srv, tokenCalls := kisTestServer(t, 3600)
	b := newKIS(srv.URL)
	ctx := context.Background()

	require.NoError(t, b.Authenticate(ctx))
	assert.Equal(t, 1, *tokenCalls)

	// Move the clock to within the 5-minute refresh margin.
	b.now = func() time.Time { return time.Now().Add(3600*time.Second - 4*time.Minute) }
	_, err := b.GetStockPrice(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, 2, *tokenCalls, "token refreshed inside the expiry margin")
}

func TestKISAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := newKIS(srv.URL)
	err := b.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)

	// place_order surfaces the auth failure as a FAILED result.
	result, err := b.PlaceOrder(context.Background(), Order{Symbol: "005930", Side: SideBuy, Quantity: 1, Price: 75000})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestKISPlaceOrderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
		case "/uapi/domestic-stock/v1/trading/order-cash":
			json.NewEncoder(w).Encode(map[string]interface{}{"rt_cd": "1", "msg1": "insufficient balance"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := newKIS(srv.URL)
	result, err := b.PlaceOrder(context.Background(), Order{Symbol: "005930", Side: SideBuy, Quantity: 10, Price: 75000})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "insufficient balance", result.Message)
	assert.InDelta(t, 75_000.0, result.ExecutedPrice, 1e-9)
}

func TestKISPlaceOrderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
		case "/uapi/domestic-stock/v1/trading/order-cash":
			assert.Equal(t, "VTTC0802U", r.Header.Get("tr_id"), "sandbox buy tr_id")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"rt_cd":  "0",
				"output": map[string]string{"ODNO": "0000117057"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := newKIS(srv.URL)
	result, err := b.PlaceOrder(context.Background(), Order{Symbol: "005930", Side: SideBuy, Quantity: 17, Price: 75000})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "0000117057", result.OrderID)
	assert.InDelta(t, 75_000.0*17, result.TotalAmount, 1e-9)
}
