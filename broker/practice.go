package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"axfl/logger"
)

// PracticeBrokerURLs holds the practice/live base URL pair for a venue.
var PracticeBrokerURLs = map[string]string{
	"practice": "https://api-fxpractice.example-broker.com",
	"live":     "https://api-fxtrade.example-broker.com",
}

// PracticeBroker is an HTTP-backed adapter for a practice FX/metals
// account, in the shape of an OANDA-style REST API. It keeps a short-lived
// in-memory ledger of client_tag -> PlaceResult so repeated calls with the
// same tag are idempotent without round-tripping to the broker.
type PracticeBroker struct {
	accountID string
	token     TokenSource
	baseURL   string
	venue     string

	client *http.Client

	mu       sync.Mutex
	byTag    map[string]taggedResult
	errCount int
	lastErr  string
}

type taggedResult struct {
	result PlaceResult
	at     time.Time
}

const dedupWindow = 24 * time.Hour

// NewPracticeBroker constructs a PracticeBroker. token supplies the bearer
// credential on every request (see TokenSource / StaticToken / JWTRefresher
// in jwt.go).
func NewPracticeBroker(accountID string, token TokenSource, venue string) *PracticeBroker {
	base, ok := PracticeBrokerURLs[venue]
	if !ok {
		base = PracticeBrokerURLs["practice"]
	}
	return &PracticeBroker{
		accountID: accountID,
		token:     token,
		baseURL:   base,
		venue:     venue,
		client:    &http.Client{Timeout: 20 * time.Second},
		byTag:     make(map[string]taggedResult),
	}
}

func (b *PracticeBroker) Instrument(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.TrimSuffix(s, "=X")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	if len(s) < 6 {
		return s
	}
	return s[:3] + "_" + s[3:6]
}

func (b *PracticeBroker) doRequest(method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("broker: marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, b.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("broker: build request: %w", err)
	}
	tok, err := b.token.Token()
	if err != nil {
		return nil, fmt.Errorf("broker: token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.recordError(err.Error())
		return nil, fmt.Errorf("broker: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("broker: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		b.recordError(fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)))
		return nil, fmt.Errorf("broker: api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (b *PracticeBroker) recordError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errCount++
	b.lastErr = msg
}

// PlaceMarket places an FOK market order with attached SL/TP, deduping on
// clientTag within a 24h window exactly as axfl/brokers/oanda.py does via
// _find_order_by_client_tag.
func (b *PracticeBroker) PlaceMarket(symbol, side string, units int, sl, tp float64, clientTag string) PlaceResult {
	b.mu.Lock()
	if prev, ok := b.byTag[clientTag]; ok && time.Since(prev.at) < dedupWindow {
		b.mu.Unlock()
		logger.Infof("broker: client_tag %s already placed, returning cached result", clientTag)
		res := prev.result
		res.Idempotent = true
		return res
	}
	b.mu.Unlock()

	reqUnits := units
	if strings.EqualFold(side, "sell") || strings.EqualFold(side, "short") {
		reqUnits = -units
	}

	order := map[string]interface{}{
		"order": map[string]interface{}{
			"type":        "MARKET",
			"instrument":  b.Instrument(symbol),
			"units":       reqUnits,
			"timeInForce": "FOK",
			"clientExtensions": map[string]string{
				"tag": clientTag,
			},
			"stopLossOnFill":   map[string]string{"price": formatPrice(sl)},
			"takeProfitOnFill": map[string]string{"price": formatPrice(tp)},
		},
	}

	raw, err := b.doRequest("POST", "/v3/accounts/"+b.accountID+"/orders", order)
	var result PlaceResult
	if err != nil {
		result = PlaceResult{Success: false, Error: err.Error()}
	} else {
		result = parseOrderResponse(raw)
	}

	b.mu.Lock()
	b.byTag[clientTag] = taggedResult{result: result, at: time.Now()}
	b.mu.Unlock()
	return result
}

func parseOrderResponse(raw []byte) PlaceResult {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return PlaceResult{Success: false, Error: "broker: malformed order response"}
	}
	if fill, ok := body["orderFillTransaction"].(map[string]interface{}); ok {
		id, _ := fill["id"].(string)
		return PlaceResult{Success: true, OrderID: id}
	}
	if created, ok := body["orderCreateTransaction"].(map[string]interface{}); ok {
		id, _ := created["id"].(string)
		return PlaceResult{Success: true, OrderID: id}
	}
	if reject, ok := body["orderRejectTransaction"].(map[string]interface{}); ok {
		reason, _ := reject["rejectReason"].(string)
		return PlaceResult{Success: false, Error: reason}
	}
	return PlaceResult{Success: false, Error: "broker: unrecognized order response shape"}
}

func formatPrice(p float64) string { return fmt.Sprintf("%.5f", p) }

// CloseAll flattens every open position in symbol via the broker's
// position-close endpoint.
func (b *PracticeBroker) CloseAll(symbol string) PlaceResult {
	instr := b.Instrument(symbol)
	body := map[string]interface{}{"longUnits": "ALL", "shortUnits": "ALL"}
	raw, err := b.doRequest("PUT", "/v3/accounts/"+b.accountID+"/positions/"+instr+"/close", body)
	if err != nil {
		return PlaceResult{Success: false, Error: err.Error()}
	}
	return parseOrderResponse(raw)
}

func (b *PracticeBroker) FetchPosition(symbol string) (Position, bool, error) {
	instr := b.Instrument(symbol)
	raw, err := b.doRequest("GET", "/v3/accounts/"+b.accountID+"/positions/"+instr, nil)
	if err != nil {
		if strings.Contains(err.Error(), "status 404") {
			return Position{}, false, nil
		}
		return Position{}, false, err
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Position{}, false, fmt.Errorf("broker: malformed position response: %w", err)
	}
	pos, ok := body["position"].(map[string]interface{})
	if !ok {
		return Position{}, false, nil
	}
	return positionFromWire(symbol, pos), true, nil
}

func positionFromWire(symbol string, pos map[string]interface{}) Position {
	out := Position{Symbol: symbol}
	if long, ok := pos["long"].(map[string]interface{}); ok {
		if u, ok := long["units"].(string); ok && u != "0" {
			out.Side = "buy"
		}
	}
	if short, ok := pos["short"].(map[string]interface{}); ok {
		if u, ok := short["units"].(string); ok && u != "0" {
			out.Side = "sell"
		}
	}
	return out
}

func (b *PracticeBroker) GetOpenPositions() ([]Position, error) {
	raw, err := b.doRequest("GET", "/v3/accounts/"+b.accountID+"/openPositions", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Positions []map[string]interface{} `json:"positions"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("broker: malformed positions list: %w", err)
	}
	out := make([]Position, 0, len(body.Positions))
	for _, p := range body.Positions {
		instr, _ := p["instrument"].(string)
		out = append(out, positionFromWire(strings.ReplaceAll(instr, "_", ""), p))
	}
	return out, nil
}

func (b *PracticeBroker) GetTradesSince(since time.Time) ([]Trade, error) {
	raw, err := b.doRequest("GET", "/v3/accounts/"+b.accountID+"/transactions/sinceid?id="+since.Format(time.RFC3339), nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Transactions []map[string]interface{} `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("broker: malformed transactions: %w", err)
	}
	out := make([]Trade, 0, len(body.Transactions))
	for _, tx := range body.Transactions {
		id, _ := tx["id"].(string)
		instr, _ := tx["instrument"].(string)
		tag := ""
		if ext, ok := tx["clientExtensions"].(map[string]interface{}); ok {
			tag, _ = ext["tag"].(string)
		}
		out = append(out, Trade{OrderID: id, ClientTag: tag, Symbol: strings.ReplaceAll(instr, "_", ""), ClosedAt: time.Now().UTC()})
	}
	return out, nil
}

func (b *PracticeBroker) PingAuth() error {
	_, err := b.doRequest("GET", "/v3/accounts/"+b.accountID, nil)
	return err
}

func (b *PracticeBroker) GetAccount() (map[string]interface{}, error) {
	raw, err := b.doRequest("GET", "/v3/accounts/"+b.accountID, nil)
	if err != nil {
		return nil, err
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("broker: malformed account response: %w", err)
	}
	return body, nil
}

func (b *PracticeBroker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Connected: b.errCount == 0 || b.lastErr == "",
		Errors:    b.errCount,
		LastError: b.lastErr,
		Env:       b.venue,
	}
}
