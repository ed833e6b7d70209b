package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vitos/crypto_pair_trader/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/spot"
)

// BybitAdapter talks to Bybit V5 spot: REST for snapshots and orders,
// websocket for the streaming ticker feed.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	wsConn    *websocket.Conn
	callbacks []func(symbol string, price float64)
	mu        sync.Mutex
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string) *BybitAdapter {
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, _ := json.Marshal(payload)
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == "GET" {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	signature := b.sign(paramsStr, timestamp, recvWindow)

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(respBody))
	}

	return respBody, nil
}

// GetTicker fetches the spot ticker. Bybit reports the 24h change as a
// fraction (0.065 = +6.5%); the engine works in percent.
func (b *BybitAdapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	path := "/v5/market/tickers?category=spot&symbol=" + symbol
	resp, err := http.Get(b.baseURL + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var result struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List []struct {
				Symbol       string `json:"symbol"`
				LastPrice    string `json:"lastPrice"`
				Price24hPcnt string `json:"price24hPcnt"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	if len(result.Result.List) == 0 {
		return nil, fmt.Errorf("symbol not found")
	}

	raw := result.Result.List[0]
	last, err := strconv.ParseFloat(raw.LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("bad lastPrice %q: %w", raw.LastPrice, err)
	}
	pcnt, _ := strconv.ParseFloat(raw.Price24hPcnt, 64)

	return &domain.Ticker{
		Symbol:    symbol,
		LastPrice: last,
		Change24h: pcnt * 100,
	}, nil
}

// GetAvailableBalance reads the free balance for a coin from the unified
// account wallet.
func (b *BybitAdapter) GetAvailableBalance(ctx context.Context, coin string) (float64, error) {
	path := "/v5/account/wallet-balance?accountType=UNIFIED&coin=" + coin
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Coin []struct {
					Coin                string `json:"coin"`
					WalletBalance       string `json:"walletBalance"`
					AvailableToWithdraw string `json:"availableToWithdraw"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}
	if result.RetCode != 0 {
		return 0, fmt.Errorf("bybit balance error: %s", result.RetMsg)
	}

	for _, acct := range result.Result.List {
		for _, c := range acct.Coin {
			if c.Coin != coin {
				continue
			}
			if c.AvailableToWithdraw != "" {
				return strconv.ParseFloat(c.AvailableToWithdraw, 64)
			}
			return strconv.ParseFloat(c.WalletBalance, 64)
		}
	}
	return 0, nil
}

func (b *BybitAdapter) placeOrder(ctx context.Context, symbol, side string, qty float64, marketUnit string) (*domain.OrderResult, error) {
	orderLinkID := uuid.NewString()
	payload := map[string]interface{}{
		"category":    "spot",
		"symbol":      symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"marketUnit":  marketUnit,
		"orderLinkId": orderLinkID,
	}

	resp, err := b.sendRequest(ctx, "POST", "/v5/order/create", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return &domain.OrderResult{ID: result.Result.OrderID, Status: domain.OrderStatusFailed},
			fmt.Errorf("bybit order error: %s", result.RetMsg)
	}

	price, err := b.fetchExecutionPrice(ctx, symbol, result.Result.OrderID)
	if err != nil || price == 0 {
		// Fall back to the last ticked price rather than failing a
		// filled order.
		if t, terr := b.GetTicker(ctx, symbol); terr == nil {
			price = t.LastPrice
		}
	}

	return &domain.OrderResult{
		ID:             result.Result.OrderID,
		Status:         domain.OrderStatusSuccess,
		ExecutionPrice: price,
	}, nil
}

func (b *BybitAdapter) fetchExecutionPrice(ctx context.Context, symbol, orderID string) (float64, error) {
	path := "/v5/order/history?category=spot&symbol=" + symbol + "&orderId=" + orderID
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List []struct {
				AvgPrice string `json:"avgPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}
	if len(result.Result.List) == 0 {
		return 0, nil
	}
	return strconv.ParseFloat(result.Result.List[0].AvgPrice, 64)
}

// MarketBuy spends quoteAmount of the quote currency.
func (b *BybitAdapter) MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*domain.OrderResult, error) {
	return b.placeOrder(ctx, symbol, "Buy", quoteAmount, "quoteCoin")
}

// MarketSell sells baseAmount of the base currency.
func (b *BybitAdapter) MarketSell(ctx context.Context, symbol string, baseAmount float64) (*domain.OrderResult, error) {
	return b.placeOrder(ctx, symbol, "Sell", baseAmount, "baseCoin")
}

// --- WebSocket ---

func (b *BybitAdapter) OnPriceUpdate(callback func(symbol string, price float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// Subscribe attaches the spot ticker stream for the given symbols,
// dialing the websocket on first use.
func (b *BybitAdapter) Subscribe(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn == nil {
		c, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
		if err != nil {
			return err
		}
		b.wsConn = c
		go b.readLoop(c)
	}
	return b.subscribe(symbols)
}

func (b *BybitAdapter) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "tickers." + s
	}
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	return b.wsConn.WriteJSON(subMsg)
}

func (b *BybitAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.mu.Lock()
		if b.wsConn == conn {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var event struct {
			Topic string `json:"topic"`
			Data  struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if !strings.HasPrefix(event.Topic, "tickers.") || event.Data.LastPrice == "" {
			continue
		}

		price, err := strconv.ParseFloat(event.Data.LastPrice, 64)
		if err != nil {
			continue
		}

		b.mu.Lock()
		callbacks := make([]func(string, float64), len(b.callbacks))
		copy(callbacks, b.callbacks)
		b.mu.Unlock()

		for _, cb := range callbacks {
			cb(event.Data.Symbol, price)
		}
	}
}
