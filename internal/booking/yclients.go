// Package booking talks to the YCLIENTS REST API. The notifier only needs
// read access to single records, used to fill in webhook events that arrive
// without enough detail.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is the public v1 API root.
const DefaultBaseURL = "https://api.yclients.com/api/v1"

const acceptHeader = "application/vnd.yclients.v2+json"

var (
	// ErrNotFound is returned when the record does not exist.
	ErrNotFound = errors.New("booking: record not found")
	// ErrAuth is returned when no user token can be obtained.
	ErrAuth = errors.New("booking: authorization failed")
)

var tracer = otel.Tracer("booking/yclients")

// Config holds the credentials of a YCLIENTS partner integration.
// UserToken may be set directly; otherwise it is obtained once through
// POST /auth with Login and Password and cached.
type Config struct {
	BaseURL      string
	PartnerToken string
	UserToken    string
	Login        string
	Password     string
	Timeout      time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	base       string
	partner    string
	login      string
	password   string
	httpClient *http.Client

	mu        sync.Mutex
	userToken string
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:       strings.TrimRight(base, "/"),
		partner:    cfg.PartnerToken,
		login:      cfg.Login,
		password:   cfg.Password,
		userToken:  cfg.UserToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

// FetchRecord returns the raw record object of appointmentID. Numbers are
// decoded as json.Number so ids keep their exact digits.
func (c *Client) FetchRecord(ctx context.Context, companyID, appointmentID string) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "FetchRecord", trace.WithAttributes(
		attribute.String("company_id", companyID),
		attribute.String("appointment_id", appointmentID),
	))
	defer span.End()

	path := fmt.Sprintf("/record/%s/%s", url.PathEscape(companyID), url.PathEscape(appointmentID))

	status, env, err := c.do(ctx, http.MethodGet, path, nil)
	if err == nil && status == http.StatusUnauthorized {
		// Token expired; forget it and try once more.
		c.resetToken()
		status, env, err = c.do(ctx, http.MethodGet, path, nil)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("booking: GET %s: status %d", path, status)
	}
	if !env.Success || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, ErrNotFound
	}

	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("booking: decode record: %w", err)
	}
	return rec, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, envelope, error) {
	token, err := c.token(ctx)
	if err != nil {
		return 0, envelope{}, err
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, envelope{}, err
	}
	req.Header.Set("User-Auth-Token", token)
	return c.roundTrip(req)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Content-Type", "application/json")
	if c.partner != "" {
		req.Header.Set("Authorization", "Bearer "+c.partner)
	}
	return req, nil
}

func (c *Client) roundTrip(req *http.Request) (int, envelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, envelope{}, fmt.Errorf("booking: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	var env envelope
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, env, err
	}
	if len(b) > 0 {
		// Error pages are not always JSON; the status code still counts.
		_ = json.Unmarshal(b, &env)
	}
	return resp.StatusCode, env, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userToken != "" {
		return c.userToken, nil
	}
	if c.login == "" {
		// Partner-only access; some endpoints accept it.
		return "", nil
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/auth", map[string]string{
		"login":    c.login,
		"password": c.password,
	})
	if err != nil {
		return "", err
	}
	status, env, err := c.roundTrip(req)
	if err != nil {
		return "", err
	}
	var data struct {
		UserToken string `json:"user_token"`
	}
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &data)
	}
	if status != http.StatusOK || data.UserToken == "" {
		log.Error().Int("status", status).Msg("yclients auth failed")
		return "", fmt.Errorf("%w: status %d", ErrAuth, status)
	}
	log.Info().Msg("yclients user token obtained")
	c.userToken = data.UserToken
	return c.userToken, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.login != "" {
		c.userToken = ""
	}
}
