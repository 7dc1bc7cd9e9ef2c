// Package marketdata fetches the 1-minute warm-up history the portfolio
// engine aggregates into 5-minute bars at startup. Grounded on the HTTP
// fetch/retry idiom of market/historical.go and market/api_client.go, with
// the single Alpaca source generalized into the ordered multi-source
// fallback chain spec.md §7 requires for warm-up.
package marketdata

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"axfl/bars"
	"axfl/logger"
	"axfl/symbols"
)

// Source names recognized by the "auto" fallback chain, in priority order.
const (
	SourceTwelveData = "twelvedata"
	SourceFinnhub    = "finnhub"
	SourceYFinance   = "yfinance"
)

var autoChain = []string{SourceTwelveData, SourceFinnhub, SourceYFinance}

// Provider fetches 1-minute bars for one symbol from one data source.
type Provider interface {
	Name() string
	FetchMinuteBars(symbol string, days int) ([]bars.Bar, error)
}

// Warmup fetches warmupDays worth of 1-minute bars for every symbol, trying
// sources in order when source == "auto". It fails only if every source
// fails for every symbol, matching spec.md §7's warm-up error policy.
func Warmup(providers map[string]Provider, symbolList []string, source string, warmupDays int) (map[string][]bars.Bar, error) {
	order := []string{source}
	if source == "auto" || source == "" {
		order = autoChain
	}

	out := make(map[string][]bars.Bar, len(symbolList))
	for _, sym := range symbolList {
		var lastErr error
		for _, name := range order {
			p, ok := providers[name]
			if !ok {
				continue
			}
			b, err := p.FetchMinuteBars(sym, warmupDays)
			if err != nil {
				lastErr = err
				logger.Warnf("marketdata: %s failed for %s: %v", name, sym, err)
				continue
			}
			out[sym] = b
			lastErr = nil
			break
		}
		if lastErr != nil {
			logger.Warnf("marketdata: every source failed for %s: %v", sym, lastErr)
		}
	}

	anyData := false
	for _, b := range out {
		if len(b) > 0 {
			anyData = true
			break
		}
	}
	if !anyData {
		return nil, fmt.Errorf("marketdata: all sources failed for all symbols")
	}
	return out, nil
}

// TwelveDataProvider fetches bars from the twelvedata time_series endpoint.
type TwelveDataProvider struct {
	APIKey string
	client *http.Client
}

func NewTwelveDataProvider(apiKey string) *TwelveDataProvider {
	return &TwelveDataProvider{APIKey: apiKey, client: &http.Client{Timeout: 20 * time.Second}}
}

func (p *TwelveDataProvider) Name() string { return SourceTwelveData }

func (p *TwelveDataProvider) FetchMinuteBars(symbol string, days int) ([]bars.Bar, error) {
	slash, _, _ := symbols.ProviderForms(symbol, "")
	outputSize := days * 24 * 60 // worst case; API caps and truncates server-side
	url := fmt.Sprintf("https://api.twelvedata.com/time_series?symbol=%s&interval=1min&outputsize=%d&apikey=%s",
		slash, outputSize, p.APIKey)

	raw, err := doGet(p.client, url)
	if err != nil {
		return nil, err
	}

	var body struct {
		Values []struct {
			Datetime string `json:"datetime"`
			Open     string `json:"open"`
			High     string `json:"high"`
			Low      string `json:"low"`
			Close    string `json:"close"`
			Volume   string `json:"volume"`
		} `json:"values"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("twelvedata: malformed response: %w", err)
	}
	if body.Status == "error" {
		return nil, fmt.Errorf("twelvedata: %s", body.Message)
	}

	out := make([]bars.Bar, 0, len(body.Values))
	for i := len(body.Values) - 1; i >= 0; i-- { // API returns newest-first
		v := body.Values[i]
		ts, err := time.Parse("2006-01-02 15:04:05", v.Datetime)
		if err != nil {
			continue
		}
		out = append(out, bars.Bar{
			Time:   ts.UTC(),
			Open:   parseFloat(v.Open),
			High:   parseFloat(v.High),
			Low:    parseFloat(v.Low),
			Close:  parseFloat(v.Close),
			Volume: parseFloat(v.Volume),
		})
	}
	return out, nil
}

// FinnhubProvider fetches bars from Finnhub's forex candle endpoint.
type FinnhubProvider struct {
	APIKey string
	client *http.Client
}

func NewFinnhubProvider(apiKey string) *FinnhubProvider {
	return &FinnhubProvider{APIKey: apiKey, client: &http.Client{Timeout: 20 * time.Second}}
}

func (p *FinnhubProvider) Name() string { return SourceFinnhub }

func (p *FinnhubProvider) FetchMinuteBars(symbol string, days int) ([]bars.Bar, error) {
	_, _, suffix := symbols.ProviderForms(symbol, "")
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -days)

	url := fmt.Sprintf("https://finnhub.io/api/v1/forex/candle?symbol=OANDA:%s&resolution=1&from=%d&to=%d&token=%s",
		strings.TrimSuffix(suffix, "=X"), from.Unix(), now.Unix(), p.APIKey)

	raw, err := doGet(p.client, url)
	if err != nil {
		return nil, err
	}

	var body struct {
		C []float64 `json:"c"`
		H []float64 `json:"h"`
		L []float64 `json:"l"`
		O []float64 `json:"o"`
		T []int64   `json:"t"`
		V []float64 `json:"v"`
		S string    `json:"s"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("finnhub: malformed response: %w", err)
	}
	if body.S != "ok" {
		return nil, fmt.Errorf("finnhub: status %s", body.S)
	}

	out := make([]bars.Bar, 0, len(body.T))
	for i := range body.T {
		out = append(out, bars.Bar{
			Time:   time.Unix(body.T[i], 0).UTC(),
			Open:   body.O[i],
			High:   body.H[i],
			Low:    body.L[i],
			Close:  body.C[i],
			Volume: body.V[i],
		})
	}
	return out, nil
}

// YFinanceProvider fetches bars from a yfinance-compatible chart endpoint,
// the last-resort source when both paid providers are unavailable.
type YFinanceProvider struct {
	client *http.Client
}

func NewYFinanceProvider() *YFinanceProvider {
	return &YFinanceProvider{client: &http.Client{Timeout: 20 * time.Second}}
}

func (p *YFinanceProvider) Name() string { return SourceYFinance }

func (p *YFinanceProvider) FetchMinuteBars(symbol string, days int) ([]bars.Bar, error) {
	_, _, suffix := symbols.ProviderForms(symbol, "")
	rangeParam := "5d" // yfinance intraday 1m history is capped near 7 days regardless of warmup_days
	url := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%s?interval=1m&range=%s", suffix, rangeParam)

	raw, err := doGet(p.client, url)
	if err != nil {
		return nil, err
	}

	var body struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Open   []float64 `json:"open"`
						High   []float64 `json:"high"`
						Low    []float64 `json:"low"`
						Close  []float64 `json:"close"`
						Volume []float64 `json:"volume"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error interface{} `json:"error"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("yfinance: malformed response: %w", err)
	}
	if body.Chart.Error != nil || len(body.Chart.Result) == 0 {
		return nil, fmt.Errorf("yfinance: no result for %s", symbol)
	}

	res := body.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yfinance: no quote data for %s", symbol)
	}
	q := res.Indicators.Quote[0]

	out := make([]bars.Bar, 0, len(res.Timestamp))
	for i := range res.Timestamp {
		if i >= len(q.Close) {
			break
		}
		out = append(out, bars.Bar{
			Time:   time.Unix(res.Timestamp[i], 0).UTC(),
			Open:   q.Open[i],
			High:   q.High[i],
			Low:    q.Low[i],
			Close:  q.Close[i],
			Volume: q.Volume[i],
		})
	}
	_ = days
	return out, nil
}

func doGet(client *http.Client, url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
