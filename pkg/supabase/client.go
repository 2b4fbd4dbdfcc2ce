// Package supabase is a minimal PostgREST client for Supabase tables.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Row is one table row as decoded JSON.
type Row = map[string]any

// Client defines the PostgREST operations used by analytics.
type Client interface {
	Insert(ctx context.Context, table string, row Row) ([]Row, error)
	Update(ctx context.Context, table string, match map[string]string, patch Row) error
	Delete(ctx context.Context, table string, match map[string]string) error
	Select(ctx context.Context, table string, match map[string]string, columns string, limit int) ([]Row, error)
	Ping(ctx context.Context) error
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit overrides the default limit of 10 req/s. Zero disables it.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	baseURL    string
	anonKey    string
	serviceKey string
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for the project at projectURL.
func NewClient(projectURL, anonKey, serviceKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL:    projectURL + "/rest/v1/",
		anonKey:    anonKey,
		serviceKey: serviceKey,
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError is an unexpected PostgREST response.
type StatusError struct {
	Op         string
	Table      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("supabase: %s %s: status %d: %s", e.Op, e.Table, e.StatusCode, e.Body)
}

func (c *httpClient) Insert(ctx context.Context, table string, row Row) ([]Row, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return nil, eris.Wrapf(err, "supabase: marshal %s row", table)
	}
	resp, err := c.do(ctx, http.MethodPost, table, nil, body, map[string]string{"Prefer": "return=representation"})
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusCreated {
		return nil, &StatusError{Op: "insert", Table: table, StatusCode: resp.status, Body: string(resp.body)}
	}
	var rows []Row
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return nil, eris.Wrapf(err, "supabase: decode %s insert", table)
	}
	return rows, nil
}

func (c *httpClient) Update(ctx context.Context, table string, match map[string]string, patch Row) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return eris.Wrapf(err, "supabase: marshal %s patch", table)
	}
	resp, err := c.do(ctx, http.MethodPatch, table, matchQuery(match), body, nil)
	if err != nil {
		return err
	}
	if resp.status != http.StatusNoContent && resp.status != http.StatusOK {
		return &StatusError{Op: "update", Table: table, StatusCode: resp.status, Body: string(resp.body)}
	}
	return nil
}

func (c *httpClient) Delete(ctx context.Context, table string, match map[string]string) error {
	resp, err := c.do(ctx, http.MethodDelete, table, matchQuery(match), nil, nil)
	if err != nil {
		return err
	}
	if resp.status != http.StatusNoContent && resp.status != http.StatusOK {
		return &StatusError{Op: "delete", Table: table, StatusCode: resp.status, Body: string(resp.body)}
	}
	return nil
}

func (c *httpClient) Select(ctx context.Context, table string, match map[string]string, columns string, limit int) ([]Row, error) {
	q := matchQuery(match)
	if columns == "" {
		columns = "*"
	}
	q.Set("select", columns)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	resp, err := c.do(ctx, http.MethodGet, table, q, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &StatusError{Op: "select", Table: table, StatusCode: resp.status, Body: string(resp.body)}
	}
	var rows []Row
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return nil, eris.Wrapf(err, "supabase: decode %s select", table)
	}
	return rows, nil
}

// Ping reads one id from research_sessions.
func (c *httpClient) Ping(ctx context.Context) error {
	_, err := c.Select(ctx, "research_sessions", nil, "id", 1)
	return err
}

type response struct {
	status int
	body   []byte
}

func (c *httpClient) do(ctx context.Context, method, table string, q url.Values, body []byte, extra map[string]string) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "supabase: rate limit")
		}
	}

	u := c.baseURL + url.PathEscape(table)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, eris.Wrapf(err, "supabase: create %s request", table)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "supabase: %s %s", method, table)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "supabase: read %s response", table)
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

// matchQuery renders equality filters as PostgREST "col=eq.value" params.
func matchQuery(match map[string]string) url.Values {
	q := url.Values{}
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, "eq."+match[k])
	}
	return q
}
