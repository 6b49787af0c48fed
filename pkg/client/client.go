// Package client is the Go client platforms use to call SettleGate. Every
// request is signed with the platform secret.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/signer"
	"github.com/google/uuid"
)

type Client struct {
	baseURL    string
	platformID string
	secret     string
	encoding   signer.Encoding
	http       *http.Client
	now        func() time.Time
	nonce      func() string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithEncoding must match the server's signature_encoding.
func WithEncoding(enc signer.Encoding) Option {
	return func(c *Client) { c.encoding = enc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(baseURL, platformID, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		platformID: platformID,
		secret:     secret,
		encoding:   signer.EncodingHex,
		http:       &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
		nonce:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a decoded failure envelope.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	RetryAfter *int64 `json:"retryAfter,omitempty"`
	Limit      *int   `json:"limit,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("settlegate: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the same request may succeed later. Settlement
// retries must reuse the settlement id.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 || e.StatusCode == http.StatusConflict
}

func (c *Client) Balance(ctx context.Context, userID string) (*model.Balance, error) {
	var out model.Balance
	if err := c.do(ctx, http.MethodGet, c.platformPath("/users/"+url.PathEscape(userID)+"/balance"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Deposit(ctx context.Context, req model.DepositRequest) (*model.Transaction, error) {
	var out model.Transaction
	if err := c.do(ctx, http.MethodPost, c.platformPath("/deposits"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Withdraw(ctx context.Context, req model.WithdrawalRequest) (*model.Transaction, error) {
	var out model.Transaction
	if err := c.do(ctx, http.MethodPost, c.platformPath("/withdrawals"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transactions lists newest first. Zero limit uses the server default.
func (c *Client) Transactions(ctx context.Context, userID string, limit, offset int) (*model.TransactionList, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := c.platformPath("/users/" + url.PathEscape(userID) + "/transactions")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out model.TransactionList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignHeaders returns the authentication headers for a request to uri
// (path plus query, exactly as it will be sent).
func (c *Client) SignHeaders(method, uri string, body []byte) (http.Header, error) {
	ts := signer.Timestamp(c.now())
	sig, err := signer.Sign(c.secret, ts, method, uri, body, c.encoding)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(signer.HeaderPlatformToken, c.platformID)
	h.Set(signer.HeaderTimestamp, ts)
	h.Set(signer.HeaderNonce, c.nonce())
	h.Set(signer.HeaderSignature, sig)
	return h, nil
}

func (c *Client) platformPath(suffix string) string {
	return "/v1/platforms/" + url.PathEscape(c.platformID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	headers, err := c.SignHeaders(method, req.URL.RequestURI(), body)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = "HTTP_ERROR"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
