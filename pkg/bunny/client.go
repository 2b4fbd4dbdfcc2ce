// Package bunny uploads files to Bunny CDN storage zones.
package bunny

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultStorageURL = "https://storage.bunnycdn.com"

// Client uploads objects and returns their public URL.
type Client interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithStorageURL overrides the storage API endpoint (regional zones use a
// prefixed host).
func WithStorageURL(url string) Option {
	return func(c *httpClient) { c.storageURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit overrides the default of 5 uploads/s. Zero disables it.
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
	zone       string
	accessKey  string
	pullZone   string
	storageURL string
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an uploader for zone. pullZoneURL is the public base URL
// that serves the zone's files.
func NewClient(zone, accessKey, pullZoneURL string, opts ...Option) Client {
	c := &httpClient{
		zone:       zone,
		accessKey:  accessKey,
		pullZone:   strings.TrimRight(pullZoneURL, "/"),
		storageURL: defaultStorageURL,
		http:       &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if c.zone == "" || c.accessKey == "" {
		return "", eris.New("bunny: storage zone and access key are required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "bunny: rate limit")
		}
	}

	path = strings.TrimLeft(path, "/")
	u := fmt.Sprintf("%s/%s/%s", c.storageURL, c.zone, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return "", eris.Wrap(err, "bunny: create upload request")
	}
	req.Header.Set("AccessKey", c.accessKey)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "bunny: upload %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", eris.Errorf("bunny: upload %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return c.pullZone + "/" + path, nil
}
