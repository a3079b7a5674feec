package livedns

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
	"time"

	"github.com/dmdmdm-nz/wire-sentinel/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.gandi.net"
	DefaultTTL     = 300
	DefaultTimeout = 5 * time.Second

	maxResponseBody = 4096
)

// ErrUpdateFailed is wrapped by every error UpdateRecord returns.
var ErrUpdateFailed = errors.New("livedns record update failed")

// StatusError is a non-2xx answer from the LiveDNS API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", ErrUpdateFailed, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpdateFailed }

// Client replaces the AAAA rrset of one record. The PUT is declarative, so
// repeating it with the same address leaves the zone unchanged.
type Client struct {
	baseURL    string
	token      string
	domain     string
	hostname   string
	ttl        int
	httpClient *http.Client
}

func NewClient(baseURL, token, domain, hostname string, ttl int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		domain:     domain,
		hostname:   hostname,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rrsetRequest struct {
	Values []string `json:"rrset_values"`
	TTL    int      `json:"rrset_ttl"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// RecordURL is the rrset endpoint this client writes to.
func (c *Client) RecordURL() string {
	return fmt.Sprintf("%s/v5/livedns/domains/%s/records/%s/AAAA",
		c.baseURL, url.PathEscape(c.domain), url.PathEscape(c.hostname))
}

// UpdateRecord points the AAAA record at address. It does not retry.
func (c *Client) UpdateRecord(ctx context.Context, address string) error {
	start := time.Now()
	defer func() { metrics.DNSUpdateDuration.Observe(time.Since(start).Seconds()) }()

	body, err := json.Marshal(rrsetRequest{Values: []string{address}, TTL: c.ttl})
	if err != nil {
		return fmt.Errorf("%w: encode request: %w", ErrUpdateFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.RecordURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrUpdateFailed, err)
	}
	req.Header.Set("authorization", "Bearer "+c.token)
	req.Header.Set("content-type", "application/json")

	log.WithFields(log.Fields{
		"hostname": c.hostname,
		"domain":   c.domain,
		"address":  address,
	}).Trace("Updating LiveDNS AAAA record")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrUpdateFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var msg messageResponse
	if err := json.Unmarshal(respBody, &msg); err == nil && msg.Message != "" {
		log.WithField("status", resp.StatusCode).Tracef("LiveDNS response: %s", msg.Message)
	}
	return nil
}
