// Package remote implements the hosted completion API backend: an
// OpenAI-compatible /v1/completions endpoint reached over HTTP.
package remote

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"textgen/internal/backend"
)

// Kind is the backend kind name.
const Kind = "remote"

const (
	DefaultBaseURL        = "https://api.openai.com"
	DefaultModel          = "code-cushman-001"
	defaultRequestTimeout = 2 * time.Minute
	defaultCacheTTL       = 10 * time.Minute
)

func init() {
	backend.Register(Kind, func(ctx context.Context, opts backend.Options) (backend.Backend, error) {
		return Load(opts)
	})
}

// Client talks to the completion API. It satisfies backend.Backend.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	reqTimeout time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *ttlcache.Cache[string, string]
	closeOnce  sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRateLimit paces requests to rpm per minute; rpm <= 0 disables pacing.
func WithRateLimit(rpm int) Option {
	return func(cl *Client) {
		if rpm <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		cl.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
}

// WithCacheTTL caches deterministic results for ttl; ttl < 0 disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cl *Client) {
		if cl.cache != nil {
			cl.cache.Stop()
			cl.cache = nil
		}
		if ttl < 0 {
			return
		}
		if ttl == 0 {
			ttl = defaultCacheTTL
		}
		cl.cache = ttlcache.New[string, string](ttlcache.WithTTL[string, string](ttl))
		go cl.cache.Start()
	}
}

// Load builds a client from backend options.
func Load(opts backend.Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, backend.ErrDependencyUnavailable("remote backend: could not find API key")
	}
	return NewClient(opts.BaseURL, opts.APIKey, opts.Model,
		WithRateLimit(opts.RequestsPerMinute),
		WithCacheTTL(opts.CacheTTL),
		withRequestTimeout(opts.RequestTimeout),
	), nil
}

// NewClient constructs a client. Empty baseURL and model use the defaults.
func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		reqTimeout: defaultRequestTimeout,
		// Timeout=0: every request carries a context deadline instead.
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func withRequestTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.reqTimeout = d
		}
	}
}

// Generate sends one completion request. The hosted API has no n-gram ban,
// so repeats are trimmed from the returned continuation instead.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int, s backend.Sampling) (string, error) {
	key := ""
	if s.Deterministic && c.cache != nil {
		key = cacheKey(c.model, prompt, maxTokens, s)
		if it := c.cache.Get(key); it != nil {
			return it.Value(), nil
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", backend.NewError("rate limit wait", err)
	}
	cont, err := c.complete(ctx, prompt, maxTokens, s)
	if err != nil {
		return "", err
	}
	cont = backend.TrimRepeats(prompt, cont, s.RepetitionWindow)
	out := prompt + cont
	if key != "" {
		c.cache.Set(key, out, ttlcache.DefaultTTL)
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, prompt string, maxTokens int, s backend.Sampling) (string, error) {
	payload := completionRequest{
		Model:     c.model,
		Prompt:    prompt,
		MaxTokens: maxTokens,
		TopP:      1.0,
	}
	if !s.Deterministic {
		payload.Temperature = s.Temperature
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", backend.NewError("marshal request", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", backend.NewError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", backend.NewError("request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", backend.NewError(errorMessage(resp), nil)
	}
	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", backend.NewError("decode response", err)
	}
	if len(out.Choices) == 0 {
		return "", backend.NewError("response has no choices", nil)
	}
	return out.Choices[0].Text, nil
}

func errorMessage(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiErrorResponse
	if json.Unmarshal(b, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Sprintf("completion api %s: %s", resp.Status, apiErr.Error.Message)
	}
	return fmt.Sprintf("completion api %s: %s", resp.Status, strings.TrimSpace(string(b)))
}

func cacheKey(model, prompt string, maxTokens int, s backend.Sampling) string {
	h := sha256.New()
	for _, part := range []string{model, strconv.Itoa(maxTokens), strconv.Itoa(s.RepetitionWindow), strconv.FormatBool(s.EarlyStopping), prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Close stops the cache janitor.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.cache != nil {
			c.cache.Stop()
		}
	})
	return nil
}
