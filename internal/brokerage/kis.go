package brokerage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/config"
)

// tokenRefreshMargin refreshes the access token when it is within this much
// of expiry.
const tokenRefreshMargin = 5 * time.Minute

// KISBroker talks to a KIS-style REST brokerage. All token state is guarded
// by a per-instance mutex so concurrent callers never double-refresh.
type KISBroker struct {
	config     config.BrokerageConfig
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewKISBroker creates a broker client. No network call happens until the
// first operation needs a token.
func NewKISBroker(cfg config.BrokerageConfig, log zerolog.Logger) *KISBroker {
	return &KISBroker{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log.With().Str("component", "brokerage").Str("provider", "kis").Logger(),
		now: time.Now,
	}
}

// Authenticate obtains a token if the current one is missing or near expiry.
func (b *KISBroker) Authenticate(ctx context.Context) error {
	_, err := b.token(ctx)
	return err
}

// token returns a valid access token, refreshing when within the margin.
func (b *KISBroker) token(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.accessToken != "" && b.now().Before(b.tokenExpiry.Add(-tokenRefreshMargin)) {
		return b.accessToken, nil
	}

	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     b.config.AppKey,
		"appsecret":  b.config.AppSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.BaseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &tokenResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuthFailed)
	}

	b.accessToken = tokenResp.AccessToken
	b.tokenExpiry = b.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	b.log.Info().Time("expiry", b.tokenExpiry).Msg("brokerage token refreshed")
	return b.accessToken, nil
}

// trID returns the transaction id for an endpoint; sandbox accounts use the
// V-prefixed ids.
func (b *KISBroker) trID(live, sandbox string) string {
	if b.config.Sandbox {
		return sandbox
	}
	return live
}

func (b *KISBroker) doGet(ctx context.Context, path, trID string, params map[string]string, out interface{}) error {
	token, err := b.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.config.BaseURL+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	b.setHeaders(req, token, trID)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("brokerage request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("brokerage returned %d", resp.StatusCode)
	}
	return json.Unmarshal(respBody, out)
}

func (b *KISBroker) setHeaders(req *http.Request, token, trID string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", b.config.AppKey)
	req.Header.Set("appsecret", b.config.AppSecret)
	req.Header.Set("tr_id", trID)
}

// GetStockPrice fetches the live quote for one symbol.
func (b *KISBroker) GetStockPrice(ctx context.Context, symbol string) (*Quote, error) {
	var out struct {
		RtCd   string `json:"rt_cd"`
		Msg    string `json:"msg1"`
		Output struct {
			Price  string `json:"stck_prpr"`
			Open   string `json:"stck_oprc"`
			High   string `json:"stck_hgpr"`
			Low    string `json:"stck_lwpr"`
			Volume string `json:"acml_vol"`
		} `json:"output"`
	}

	err := b.doGet(ctx, "/uapi/domestic-stock/v1/quotations/inquire-price",
		b.trID("FHKST01010100", "FHKST01010100"),
		map[string]string{
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         symbol,
		}, &out)
	if err != nil {
		return nil, err
	}
	if out.RtCd != "0" {
		return nil, fmt.Errorf("%w: %s (%s)", ErrSymbolNotFound, symbol, out.Msg)
	}

	price, err := strconv.ParseFloat(out.Output.Price, 64)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("%w: bad price %q for %s", ErrSymbolNotFound, out.Output.Price, symbol)
	}

	quote := &Quote{Symbol: symbol, Price: price}
	quote.Open, _ = strconv.ParseFloat(out.Output.Open, 64)
	quote.High, _ = strconv.ParseFloat(out.Output.High, 64)
	quote.Low, _ = strconv.ParseFloat(out.Output.Low, 64)
	quote.Volume, _ = strconv.ParseInt(out.Output.Volume, 10, 64)
	return quote, nil
}

// GetAccountBalance fetches the cash summary.
func (b *KISBroker) GetAccountBalance(ctx context.Context) (*AccountInfo, error) {
	var out struct {
		RtCd    string `json:"rt_cd"`
		Msg     string `json:"msg1"`
		Output2 []struct {
			Cash       string `json:"dnca_tot_amt"`
			Invested   string `json:"scts_evlu_amt"`
			TotalValue string `json:"tot_evlu_amt"`
		} `json:"output2"`
	}

	err := b.doGet(ctx, "/uapi/domestic-stock/v1/trading/inquire-balance",
		b.trID("TTTC8434R", "VTTC8434R"),
		map[string]string{
			"CANO": b.config.Account,
		}, &out)
	if err != nil {
		return nil, err
	}
	if out.RtCd != "0" || len(out.Output2) == 0 {
		return nil, fmt.Errorf("balance query failed: %s", out.Msg)
	}

	info := &AccountInfo{}
	info.Cash, _ = strconv.ParseFloat(out.Output2[0].Cash, 64)
	info.Invested, _ = strconv.ParseFloat(out.Output2[0].Invested, 64)
	info.TotalValue, _ = strconv.ParseFloat(out.Output2[0].TotalValue, 64)
	return info, nil
}

// GetAccountHoldings fetches brokerage-side positions.
func (b *KISBroker) GetAccountHoldings(ctx context.Context) ([]*Holding, error) {
	var out struct {
		RtCd    string `json:"rt_cd"`
		Msg     string `json:"msg1"`
		Output1 []struct {
			Symbol   string `json:"pdno"`
			Quantity string `json:"hldg_qty"`
			AvgCost  string `json:"pchs_avg_pric"`
			Price    string `json:"prpr"`
		} `json:"output1"`
	}

	err := b.doGet(ctx, "/uapi/domestic-stock/v1/trading/inquire-balance",
		b.trID("TTTC8434R", "VTTC8434R"),
		map[string]string{
			"CANO": b.config.Account,
		}, &out)
	if err != nil {
		return nil, err
	}
	if out.RtCd != "0" {
		return nil, fmt.Errorf("holdings query failed: %s", out.Msg)
	}

	holdings := make([]*Holding, 0, len(out.Output1))
	for _, item := range out.Output1 {
		h := &Holding{Symbol: item.Symbol}
		h.Quantity, _ = strconv.ParseInt(item.Quantity, 10, 64)
		if h.Quantity <= 0 {
			continue
		}
		h.AvgCost, _ = strconv.ParseFloat(item.AvgCost, 64)
		h.CurrentPrice, _ = strconv.ParseFloat(item.Price, 64)
		holdings = append(holdings, h)
	}
	return holdings, nil
}

// PlaceOrder submits a cash order. Rejections come back as a FAILED
// TradeResult, not an error.
func (b *KISBroker) PlaceOrder(ctx context.Context, order Order) (*TradeResult, error) {
	if err := validateOrder(order); err != nil {
		return failedResult(order, err.Error()), nil
	}

	token, err := b.token(ctx)
	if err != nil {
		return failedResult(order, err.Error()), nil
	}

	trID := b.trID("TTTC0802U", "VTTC0802U") // buy
	if order.Side == SideSell {
		trID = b.trID("TTTC0801U", "VTTC0801U")
	}

	ordDvsn := "00" // limit
	price := order.Price
	if price <= 0 {
		ordDvsn = "01" // market
		price = 0
	}

	body, err := json.Marshal(map[string]string{
		"CANO":     b.config.Account,
		"PDNO":     order.Symbol,
		"ORD_DVSN": ordDvsn,
		"ORD_QTY":  strconv.FormatInt(order.Quantity, 10),
		"ORD_UNPR": strconv.FormatFloat(price, 'f', 0, 64),
	})
	if err != nil {
		return failedResult(order, err.Error()), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.BaseURL+"/uapi/domestic-stock/v1/trading/order-cash", bytes.NewReader(body))
	if err != nil {
		return failedResult(order, err.Error()), nil
	}
	b.setHeaders(req, token, trID)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return failedResult(order, fmt.Sprintf("order submit failed: %v", err)), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failedResult(order, fmt.Sprintf("order response unreadable: %v", err)), nil
	}

	var out struct {
		RtCd   string `json:"rt_cd"`
		Msg    string `json:"msg1"`
		Output struct {
			OrderID string `json:"ODNO"`
		} `json:"output"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return failedResult(order, fmt.Sprintf("order response malformed: %v", err)), nil
	}
	if resp.StatusCode != http.StatusOK || out.RtCd != "0" {
		b.log.Warn().Str("symbol", order.Symbol).Str("side", order.Side).Str("msg", out.Msg).Msg("order rejected")
		return failedResult(order, out.Msg), nil
	}

	executedPrice := order.Price
	if executedPrice <= 0 {
		// Market order: fill price is resolved by the order-status poll;
		// use the latest quote for the immediate record.
		if quote, qErr := b.GetStockPrice(ctx, order.Symbol); qErr == nil {
			executedPrice = quote.Price
		} else {
			executedPrice = 1
		}
	}

	return &TradeResult{
		OrderID:       out.Output.OrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		ExecutedPrice: executedPrice,
		TotalAmount:   executedPrice * float64(order.Quantity),
		Status:        StatusCompleted,
		ExecutedAt:    b.now().UTC(),
	}, nil
}

// CancelOrder cancels a pending order.
func (b *KISBroker) CancelOrder(ctx context.Context, orderID string) error {
	token, err := b.token(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{
		"CANO": b.config.Account,
		"ODNO": orderID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.BaseURL+"/uapi/domestic-stock/v1/trading/order-rvsecncl", bytes.NewReader(body))
	if err != nil {
		return err
	}
	b.setHeaders(req, token, b.trID("TTTC0803U", "VTTC0803U"))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cancel returned %d", resp.StatusCode)
	}
	return nil
}

// GetOrderStatus queries one order's fill state.
func (b *KISBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	var out struct {
		RtCd    string `json:"rt_cd"`
		Msg     string `json:"msg1"`
		Output1 []struct {
			OrderID  string `json:"odno"`
			Filled   string `json:"tot_ccld_qty"`
			AvgPrice string `json:"avg_prvs"`
			Status   string `json:"ord_stat_cd"`
		} `json:"output1"`
	}

	err := b.doGet(ctx, "/uapi/domestic-stock/v1/trading/inquire-daily-ccld",
		b.trID("TTTC8001R", "VTTC8001R"),
		map[string]string{
			"CANO": b.config.Account,
			"ODNO": orderID,
		}, &out)
	if err != nil {
		return nil, err
	}
	if out.RtCd != "0" {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, out.Msg)
	}

	for _, item := range out.Output1 {
		if item.OrderID != orderID {
			continue
		}
		status := &OrderStatus{OrderID: orderID, Status: item.Status}
		status.FilledQuantity, _ = strconv.ParseInt(item.Filled, 10, 64)
		status.AveragePrice, _ = strconv.ParseFloat(item.AvgPrice, 64)
		return status, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
}
