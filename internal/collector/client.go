package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// maxBodySize caps how much of an API or page response is read.
const maxBodySize = 4 << 20

// jsonAPI keeps numbers as json.Number so amounts reach decimal without a
// float64 round trip.
var jsonAPI = sonic.Config{UseNumber: true}.Froze()

// envelope is the wrapper every OCEAN API response uses
type envelope struct {
	Result map[string]any `json:"result"`
}

// Client handles communication with the OCEAN JSON API
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a new Client. A zero timeout falls back to 10s.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.Named("client"),
	}
}

// FetchStatsnap fetches the account stats snapshot
func (c *Client) FetchStatsnap(ctx context.Context, username string) (map[string]any, error) {
	return c.fetch(ctx, "statsnap", username)
}

// FetchUserInfoFull fetches full user info including the worker list
func (c *Client) FetchUserInfoFull(ctx context.Context, username string) (map[string]any, error) {
	return c.fetch(ctx, "userinfo_full", username)
}

func (c *Client) fetch(ctx context.Context, endpoint, username string) (map[string]any, error) {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, endpoint, url.PathEscape(username))

	result, err := c.get(ctx, endpoint, u)
	if err != nil {
		c.log.Error("OCEAN API request failed",
			zap.String("endpoint", endpoint),
			zap.String("username", username),
			zap.Bool("timeout", isTimeout(err)),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, op, u string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindProtocol, Op: op, URL: u, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, URL: u, Err: err}
	}

	var env envelope
	if err := jsonAPI.Unmarshal(body, &env); err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, URL: u, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(env.Result) == 0 {
		return nil, &Error{Kind: KindProtocol, Op: op, URL: u, Err: ErrEmptyResult}
	}

	return env.Result, nil
}

// isTimeout reports whether err came from a deadline rather than a refusal.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
