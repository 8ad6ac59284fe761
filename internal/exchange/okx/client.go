// Package okx implements the OKX backend: a signed v5 REST client, a
// websocket stream adapter and the hybrid service composing them.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"marketflow/logger"
)

const (
	defaultBaseURL = "https://www.okx.com"
	timestampFmt   = "2006-01-02T15:04:05.000Z"
)

// Credentials for the private v5 endpoints. All fields empty means
// public-only access.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	Simulated  bool
}

// ClientConfig controls the REST transport.
type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RequestsPerSec  float64
	Burst           int
	MaxIdleConns    int
	MaxConnsPerHost int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RequestsPerSec <= 0 {
		c.RequestsPerSec = 10
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 32
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 64
	}
	return c
}

// APIError is a non-zero code in the OKX response envelope.
type APIError struct {
	Code    string
	Message string
	Path    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okx api error %s on %s: %s", e.Code, e.Path, e.Message)
}

// ExchangeErrorCode exposes the numeric code to the retry classifier.
func (e *APIError) ExchangeErrorCode() string { return e.Code }

// envelope is the common OKX v5 response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client is a rate-limited OKX v5 REST client.
type Client struct {
	cfg     ClientConfig
	creds   Credentials
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Entry
}

func NewClient(cfg ClientConfig, creds Credentials) *Client {
	cfg = cfg.withDefaults()
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		cfg:     cfg,
		creds:   creds,
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		log:     logger.GetLogger().WithComponent("okx-rest"),
	}
}

// HasCredentials reports whether private endpoints can be used.
func (c *Client) HasCredentials() bool {
	return c.creds.APIKey != "" && c.creds.SecretKey != "" && c.creds.Passphrase != ""
}

// get performs a public or signed GET and decodes the data array into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, signed bool, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, signed, out)
}

// post performs a signed POST with a JSON body.
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+requestPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		if !c.HasCredentials() {
			return fmt.Errorf("okx: credentials required for %s", path)
		}
		ts := time.Now().UTC().Format(timestampFmt)
		req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, bodyBytes))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)
		if c.creds.Simulated {
			req.Header.Set("x-simulated-trading", "1")
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	logger.IncrementRestRequest(len(raw))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &APIError{Code: "50011", Message: "too many requests", Path: path}
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("okx: server error %d on %s", resp.StatusCode, path)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("okx: decode %s: %w", path, err)
	}
	if env.Code != "0" {
		return &APIError{Code: env.Code, Message: env.Msg, Path: path}
	}

	c.log.WithFields(logger.Fields{
		"path":     path,
		"duration": time.Since(start).Milliseconds(),
	}).Debug("okx request")

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("okx: decode data %s: %w", path, err)
		}
	}
	return nil
}

func (c *Client) sign(ts, method, requestPath string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(ts + method + requestPath))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func limitQuery(q url.Values, limit int) url.Values {
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}
