package stockapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData is returned when the upstream response carries no usable data
// for the requested symbol.
var ErrNoData = fmt.Errorf("no data available")

const defaultBaseURL = "https://www.alphavantage.co/query"

// Client handles Alpha Vantage API requests.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Alpha Vantage client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("apikey", c.apiKey)
	reqURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha vantage error: status=%d body=%s", resp.StatusCode, string(body))
	}

	// Errors and throttling notices come back as 200 with a message field.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	for _, key := range []string{"Error Message", "Note", "Information"} {
		if raw, ok := probe[key]; ok {
			var msg string
			_ = json.Unmarshal(raw, &msg)
			return nil, fmt.Errorf("alpha vantage rejected request: %s", msg)
		}
	}

	return body, nil
}

// GetQuote retrieves general stock information: price, volume, daily change.
func (c *Client) GetQuote(ctx context.Context, symbol string) (string, error) {
	body, err := c.get(ctx, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Quote struct {
			Symbol           string `json:"01. symbol"`
			Open             string `json:"02. open"`
			High             string `json:"03. high"`
			Low              string `json:"04. low"`
			Price            string `json:"05. price"`
			Volume           string `json:"06. volume"`
			LatestTradingDay string `json:"07. latest trading day"`
			PreviousClose    string `json:"08. previous close"`
			Change           string `json:"09. change"`
			ChangePercent    string `json:"10. change percent"`
		} `json:"Global Quote"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal quote: %w", err)
	}
	if resp.Quote.Symbol == "" {
		return "", ErrNoData
	}

	q := resp.Quote
	return fmt.Sprintf(
		"Symbol: %s\nOpen: %s\nHigh: %s\nLow: %s\nPrice: %s\nVolume: %s\nLatest Trading Day: %s\nPrevious Close: %s\nChange: %s\nChange Percent: %s",
		q.Symbol,
		formatNumber(q.Open), formatNumber(q.High), formatNumber(q.Low), formatNumber(q.Price),
		q.Volume, q.LatestTradingDay, formatNumber(q.PreviousClose),
		formatNumber(q.Change), formatPercent(q.ChangePercent),
	), nil
}

// GetSentiment retrieves recent news sentiment for a stock.
func (c *Client) GetSentiment(ctx context.Context, symbol string) (string, error) {
	body, err := c.get(ctx, url.Values{
		"function": {"NEWS_SENTIMENT"},
		"tickers":  {symbol},
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Feed []struct {
			Title          string  `json:"title"`
			SentimentLabel string  `json:"overall_sentiment_label"`
			SentimentScore float64 `json:"overall_sentiment_score"`
		} `json:"feed"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal sentiment: %w", err)
	}
	if len(resp.Feed) == 0 {
		return "", ErrNoData
	}

	entries := make([]string, 0, 3)
	for i, article := range resp.Feed {
		if i == 3 {
			break
		}
		entries = append(entries, fmt.Sprintf(
			"Title: %s\nSentiment: %s (%.3f)",
			article.Title, article.SentimentLabel, article.SentimentScore,
		))
	}
	return strings.Join(entries, "\n\n"), nil
}

// GetHoldings retrieves ETF holdings for the symbol, falling back to
// institutional holders for regular equities.
func (c *Client) GetHoldings(ctx context.Context, symbol string) (string, error) {
	body, err := c.get(ctx, url.Values{
		"function": {"ETF_HOLDINGS"},
		"symbol":   {symbol},
	})
	if err == nil {
		var etf struct {
			Holdings []struct {
				Ticker string `json:"ticker"`
				Name   string `json:"name"`
				Weight string `json:"weight"`
			} `json:"holdings"`
		}
		if err := json.Unmarshal(body, &etf); err == nil && len(etf.Holdings) > 0 {
			entries := make([]string, 0, 5)
			for i, h := range etf.Holdings {
				if i == 5 {
					break
				}
				entries = append(entries, fmt.Sprintf("Ticker: %s (%s)\nWeight: %s%%", h.Ticker, h.Name, formatNumber(h.Weight)))
			}
			return "Fund holdings:\n\n" + strings.Join(entries, "\n\n"), nil
		}
	}

	body, err = c.get(ctx, url.Values{
		"function": {"INSTITUTIONAL_HOLDERS"},
		"symbol":   {symbol},
	})
	if err != nil {
		return "", err
	}

	var inst struct {
		Holders []struct {
			Name       string `json:"name"`
			Shares     string `json:"shares"`
			Percentage string `json:"percentage"`
		} `json:"institutionalHolders"`
	}
	if err := json.Unmarshal(body, &inst); err != nil {
		return "", fmt.Errorf("unmarshal holdings: %w", err)
	}
	if len(inst.Holders) == 0 {
		return "", ErrNoData
	}

	entries := make([]string, 0, 5)
	for i, h := range inst.Holders {
		if i == 5 {
			break
		}
		entries = append(entries, fmt.Sprintf("Name: %s\nShares: %s\nStake: %s%%", h.Name, h.Shares, formatNumber(h.Percentage)))
	}
	return "Institutional holders:\n\n" + strings.Join(entries, "\n\n"), nil
}

// GetEarnings retrieves upcoming and reported earnings for a stock.
func (c *Client) GetEarnings(ctx context.Context, symbol string) (string, error) {
	body, err := c.get(ctx, url.Values{
		"function": {"EARNINGS_CALENDAR"},
		"symbol":   {symbol},
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Earnings []struct {
			ReportDate   string `json:"reportDate"`
			EstimatedEPS string `json:"estimatedEPS"`
			ReportedEPS  string `json:"reportedEPS"`
		} `json:"earnings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal earnings: %w", err)
	}
	if len(resp.Earnings) == 0 {
		return "", ErrNoData
	}

	entries := make([]string, 0, 3)
	for i, e := range resp.Earnings {
		if i == 3 {
			break
		}
		entries = append(entries, fmt.Sprintf(
			"Date: %s\nEstimated EPS: $%s\nReported EPS: $%s",
			e.ReportDate, valueOrNA(e.EstimatedEPS), valueOrNA(e.ReportedEPS),
		))
	}
	return "Earnings reports:\n\n" + strings.Join(entries, "\n\n"), nil
}

// GetDividend retrieves dividend data for a stock.
func (c *Client) GetDividend(ctx context.Context, symbol string) (string, error) {
	body, err := c.get(ctx, url.Values{
		"function": {"OVERVIEW"},
		"symbol":   {symbol},
	})
	if err != nil {
		return "", err
	}

	var overview struct {
		Symbol           string `json:"Symbol"`
		DividendPerShare string `json:"DividendPerShare"`
		DividendYield    string `json:"DividendYield"`
		ExDividendDate   string `json:"ExDividendDate"`
		DividendDate     string `json:"DividendDate"`
	}
	if err := json.Unmarshal(body, &overview); err != nil {
		return "", fmt.Errorf("unmarshal overview: %w", err)
	}
	if overview.Symbol == "" {
		return "", ErrNoData
	}

	return fmt.Sprintf(
		"Dividend Per Share: $%s\nDividend Yield: %s%%\nEx-Dividend Date: %s\nDividend Date: %s",
		valueOrNA(overview.DividendPerShare),
		yieldAsPercent(overview.DividendYield),
		valueOrNA(overview.ExDividendDate),
		valueOrNA(overview.DividendDate),
	), nil
}

// GetTopGainers retrieves the top gaining stocks for the day.
func (c *Client) GetTopGainers(ctx context.Context) (string, error) {
	return c.getMovers(ctx, "top_gainers")
}

// GetTopLosers retrieves the top losing stocks for the day.
func (c *Client) GetTopLosers(ctx context.Context) (string, error) {
	return c.getMovers(ctx, "top_losers")
}

func (c *Client) getMovers(ctx context.Context, key string) (string, error) {
	body, err := c.get(ctx, url.Values{
		"function": {"TOP_GAINERS_LOSERS"},
	})
	if err != nil {
		return "", err
	}

	var resp map[string][]struct {
		Ticker           string `json:"ticker"`
		Price            string `json:"price"`
		ChangeAmount     string `json:"change_amount"`
		ChangePercentage string `json:"change_percentage"`
		Volume           string `json:"volume"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal movers: %w", err)
	}
	movers := resp[key]
	if len(movers) == 0 {
		return "", ErrNoData
	}

	entries := make([]string, 0, 10)
	for i, m := range movers {
		if i == 10 {
			break
		}
		entries = append(entries, fmt.Sprintf(
			"Ticker: %s\nPrice: %s\nChange Amount: %s\nChange Percentage: %s\nVolume: %s\n-----------------------------",
			m.Ticker, formatNumber(m.Price), formatNumber(m.ChangeAmount), formatPercent(m.ChangePercentage), m.Volume,
		))
	}
	return strings.Join(entries, "\n"), nil
}

// formatNumber normalizes a numeric string to two decimal places, leaving
// non-numeric values untouched.
func formatNumber(raw string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return d.StringFixed(2)
}

// formatPercent normalizes values like "1.2345%" to "1.23%".
func formatPercent(raw string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "%")
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return raw
	}
	return d.StringFixed(2) + "%"
}

// yieldAsPercent converts the overview's fractional yield ("0.0055") to a
// percentage ("0.55").
func yieldAsPercent(raw string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return valueOrNA(raw)
	}
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2)
}

func valueOrNA(raw string) string {
	if strings.TrimSpace(raw) == "" || raw == "None" {
		return "N/A"
	}
	return raw
}
