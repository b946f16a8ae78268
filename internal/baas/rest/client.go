// Package rest is the baas.Client for a hosted PostgREST/GoTrue service.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spendwise/internal/baas"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	AnonKey string
	// HTTPClient defaults to a client with a 15s timeout.
	HTTPClient *http.Client
	// Realtime provides change events; the hosted websocket channel is not
	// spoken here, so without one Subscribe reports ErrRealtimeDisabled.
	Realtime baas.Realtime
	Logger   *slog.Logger
}

// Client implements baas.Client over HTTP.
type Client struct {
	base     *url.URL
	anonKey  string
	http     *http.Client
	auth     *authClient
	realtime baas.Realtime
	log      *slog.Logger
}

var _ baas.Client = (*Client)(nil)

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("anon key is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Realtime == nil {
		cfg.Realtime = disabledRealtime{}
	}

	c := &Client{
		base:     base,
		anonKey:  cfg.AnonKey,
		http:     cfg.HTTPClient,
		realtime: cfg.Realtime,
		log:      cfg.Logger.With("component", "backend"),
	}
	c.auth = newAuthClient(c)
	return c, nil
}

func (c *Client) Auth() baas.Auth { return c.auth }

func (c *Client) Realtime() baas.Realtime { return c.realtime }

// Ping checks the auth service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/health"})
	return err
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	if closer, ok := c.realtime.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	prefer string
	// token overrides the one in ctx, for auth endpoints.
	token string
	dest  any
}

func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	token := r.token
	if token == "" {
		token = baas.AccessToken(ctx)
	}
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	c.log.DebugContext(ctx, "Backend request",
		"method", r.method, "path", r.path, "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= 400 {
		return resp, decodeError(resp)
	}
	if r.dest != nil && resp.StatusCode != http.StatusNoContent && r.method != http.MethodHead {
		if err := json.NewDecoder(resp.Body).Decode(r.dest); err != nil && !errors.Is(err, io.EOF) {
			return resp, fmt.Errorf("decode %s response: %w", r.path, err)
		}
	}
	return resp, nil
}

// errorBody covers both the PostgREST and the GoTrue error shapes.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Hint             string          `json:"hint"`
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	e := &baas.Error{Status: resp.StatusCode}
	var code string
	if err := json.Unmarshal(body.Code, &code); err == nil {
		e.Code = code
	}
	if body.ErrorCode != "" {
		e.Code = body.ErrorCode
	} else if e.Code == "" {
		e.Code = body.Error
	}
	for _, m := range []string{body.Message, body.Msg, body.ErrorDescription, body.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}

	switch e.Code {
	case "invalid_credentials", "invalid_grant":
		e.Err = baas.ErrInvalidCredentials
	case "PGRST202":
		e.Err = baas.ErrProcedureNotFound
	case "42501":
		e.Err = baas.ErrForbidden
	case "42P01":
		e.Err = baas.ErrNotFound
	}
	return e
}

// formatValue renders a filter operand the way PostgREST expects.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *string:
		if x == nil {
			return "null"
		}
		return *x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *string:
		return x == nil
	}
	return false
}

func filterQuery(q url.Values, filters []baas.Filter) {
	for _, f := range filters {
		val := formatValue(f.Value)
		switch {
		case isNull(f.Value) && f.Op == baas.OpEq:
			q.Add(f.Column, "is.null")
		case isNull(f.Value) && f.Op == baas.OpNeq:
			q.Add(f.Column, "not.is.null")
		case f.Op == baas.OpILike:
			q.Add(f.Column, "ilike."+strings.ReplaceAll(val, "%", "*"))
		default:
			q.Add(f.Column, string(f.Op)+"."+val)
		}
	}
}

func tablePath(table string) string { return "/rest/v1/" + url.PathEscape(table) }

func (c *Client) Select(ctx context.Context, table string, q baas.Query, dest any) error {
	query := url.Values{}
	query.Set("select", q.ColumnList())
	filterQuery(query, q.Filters)
	if len(q.Orders) > 0 {
		keys := make([]string, len(q.Orders))
		for i, o := range q.Orders {
			dir := "desc"
			if o.Ascending {
				dir = "asc"
			}
			keys[i] = o.Column + "." + dir
		}
		query.Set("order", strings.Join(keys, ","))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	_, err := c.do(ctx, request{method: http.MethodGet, path: tablePath(table), query: query, dest: dest})
	return err
}

func (c *Client) Insert(ctx context.Context, table string, rows any) error {
	_, err := c.do(ctx, request{method: http.MethodPost, path: tablePath(table), body: rows, prefer: "return=minimal"})
	return err
}

func (c *Client) Update(ctx context.Context, table string, values map[string]any, filters ...baas.Filter) error {
	if len(filters) == 0 {
		return baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, "UPDATE requires a WHERE clause")
	}
	query := url.Values{}
	filterQuery(query, filters)
	_, err := c.do(ctx, request{method: http.MethodPatch, path: tablePath(table), query: query, body: values, prefer: "return=minimal"})
	return err
}

func (c *Client) Delete(ctx context.Context, table string, filters ...baas.Filter) error {
	if len(filters) == 0 {
		return baas.NewError(http.StatusBadRequest, baas.ErrInvalidRequest, "DELETE requires a WHERE clause")
	}
	query := url.Values{}
	filterQuery(query, filters)
	_, err := c.do(ctx, request{method: http.MethodDelete, path: tablePath(table), query: query})
	return err
}

// Count issues a HEAD request and reads the total from Content-Range.
func (c *Client) Count(ctx context.Context, table string, filters ...baas.Filter) (int64, error) {
	query := url.Values{}
	query.Set("select", "*")
	filterQuery(query, filters)
	resp, err := c.do(ctx, request{method: http.MethodHead, path: tablePath(table), query: query, prefer: "count=exact"})
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.Header.Get("Content-Range"))
}

func parseContentRange(h string) (int64, error) {
	i := strings.LastIndex(h, "/")
	if i < 0 || i == len(h)-1 {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}
	total := h[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("count not reported in Content-Range %q", h)
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse Content-Range %q: %w", h, err)
	}
	return n, nil
}

func (c *Client) Call(ctx context.Context, name string, args map[string]any, dest any) error {
	if args == nil {
		args = map[string]any{}
	}
	_, err := c.do(ctx, request{method: http.MethodPost, path: "/rest/v1/rpc/" + url.PathEscape(name), body: args, dest: dest})
	return err
}

type disabledRealtime struct{}

func (disabledRealtime) Subscribe(context.Context, string, *baas.Filter, func(baas.ChangeEvent)) (baas.Subscription, error) {
	return nil, baas.ErrRealtimeDisabled
}
