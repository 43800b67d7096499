// Package pricing keeps the BTC exchange rate state up to date.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/coordinator"
)

const (
	DefaultBinanceURL   = "https://api.binance.com"
	DefaultCoinGeckoURL = "https://api.coingecko.com"

	// binanceSymbol is only used for USD; Binance has no other fiat pairs
	binanceSymbol = "BTCUSDT"
	coinGeckoID   = "bitcoin"
)

var jsonAPI = sonic.Config{UseNumber: true}.Froze()

var ErrPriceNotFound = errors.New("price not found")

// StateWriter publishes the rate as an entity state
type StateWriter interface {
	SetState(entityID, state string, attrs map[string]any) error
}

// BinanceResponse represents the Binance ticker response
type BinanceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Quote is one fetched rate
type Quote struct {
	Rate    decimal.Decimal `json:"rate"`
	Source  string          `json:"source"`
	Fetched time.Time       `json:"fetched"`
}

// Options configures an ExchangeRateService
type Options struct {
	EntityID     string
	Currency     string
	Interval     time.Duration
	BinanceURL   string
	CoinGeckoURL string
	Timeout      time.Duration
}

// ExchangeRateService fetches the BTC price from Binance with CoinGecko as
// fallback and writes it to the host on every interval.
type ExchangeRateService struct {
	*coordinator.Coordinator[*Quote]

	opts   Options
	client *http.Client
	states StateWriter
	log    *zap.Logger
}

// NewExchangeRateService creates the service. Zero options take defaults.
func NewExchangeRateService(log *zap.Logger, states StateWriter, opts Options) *ExchangeRateService {
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	opts.Currency = strings.ToLower(opts.Currency)
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.BinanceURL == "" {
		opts.BinanceURL = DefaultBinanceURL
	}
	if opts.CoinGeckoURL == "" {
		opts.CoinGeckoURL = DefaultCoinGeckoURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	s := &ExchangeRateService{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		states: states,
		log:    log.Named("pricing"),
	}
	s.Coordinator = coordinator.New(log, "BTC exchange rate", opts.Interval, s.fetch)
	s.AddListener(s.publish)
	return s
}

// Rate returns the last fetched rate, if any
func (s *ExchangeRateService) Rate() (decimal.Decimal, bool) {
	q := s.Data()
	if q == nil {
		return decimal.Zero, false
	}
	return q.Rate, true
}

func (s *ExchangeRateService) fetch(ctx context.Context) (*Quote, error) {
	var errs []error

	if s.opts.Currency == "usd" {
		rate, err := s.fetchFromBinance(ctx)
		if err == nil {
			return &Quote{Rate: rate, Source: "binance", Fetched: time.Now()}, nil
		}
		s.log.Warn("Binance price failed, trying CoinGecko", zap.Error(err))
		errs = append(errs, err)
	}

	rate, err := s.fetchFromCoinGecko(ctx)
	if err == nil {
		return &Quote{Rate: rate, Source: "coingecko", Fetched: time.Now()}, nil
	}
	errs = append(errs, err)

	return nil, errors.Join(errs...)
}

// publish writes the rate state. A failed fetch leaves the last state alone.
func (s *ExchangeRateService) publish() {
	q := s.Data()
	if q == nil || !s.LastUpdateSuccess() {
		return
	}

	attrs := map[string]any{
		"friendly_name":       "Exchange Rate 1 BTC",
		"unit_of_measurement": strings.ToUpper(s.opts.Currency),
		"icon":                "mdi:bitcoin",
		"source":              q.Source,
	}
	if err := s.states.SetState(s.opts.EntityID, q.Rate.String(), attrs); err != nil {
		s.log.Error("Failed to publish exchange rate", zap.Error(err))
		return
	}
	s.log.Debug("Exchange rate updated", zap.String("rate", q.Rate.String()), zap.String("source", q.Source))
}

// fetchFromBinance fetches the BTCUSDT price
func (s *ExchangeRateService) fetchFromBinance(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", s.opts.BinanceURL, binanceSymbol)

	body, err := s.get(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch from Binance: %w", err)
	}

	var data BinanceResponse
	if err := jsonAPI.Unmarshal(body, &data); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode Binance response: %w", err)
	}

	price, err := decimal.NewFromString(data.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("Binance %w for %s", ErrPriceNotFound, binanceSymbol)
	}
	return price, nil
}

// fetchFromCoinGecko fetches the price in the configured currency
func (s *ExchangeRateService) fetchFromCoinGecko(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=%s", s.opts.CoinGeckoURL, coinGeckoID, s.opts.Currency)

	body, err := s.get(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch from CoinGecko: %w", err)
	}

	var data map[string]map[string]json.Number
	if err := jsonAPI.Unmarshal(body, &data); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode CoinGecko response: %w", err)
	}

	if coinData, ok := data[coinGeckoID]; ok {
		if raw, ok := coinData[s.opts.Currency]; ok {
			price, err := decimal.NewFromString(raw.String())
			if err == nil && price.IsPositive() {
				return price, nil
			}
		}
	}
	return decimal.Zero, fmt.Errorf("CoinGecko %w for %s", ErrPriceNotFound, s.opts.Currency)
}

func (s *ExchangeRateService) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
