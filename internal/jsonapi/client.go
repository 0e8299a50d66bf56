package jsonapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	cklog "github.com/tridentstream/client-kodi/internal/log"
	"github.com/tridentstream/client-kodi/internal/metrics"
)

// Options configures a Client. Credentials and the TLS policy are fixed for
// the client's lifetime.
type Options struct {
	Username  string
	Password  string
	VerifyTLS bool
	Timeout   time.Duration // defaults to 30s
}

// Client fetches resource-graph documents over HTTP(S). All requests share
// one connection pool, one set of basic-auth credentials and one TLS-verify
// policy.
type Client struct {
	http     *http.Client
	username string
	password string
	registry *Registry
	logger   zerolog.Logger
}

// New returns a Client with the given options and an empty type registry.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- user-controlled setting for self-signed servers
	}

	return &Client{
		http:     &http.Client{Timeout: timeout, Transport: transport},
		username: opts.Username,
		password: opts.Password,
		registry: NewRegistry(),
		logger:   cklog.WithComponent("jsonapi"),
	}
}

// RegisterType installs a constructor for a resource type. Last registration
// for a type wins; there is no unregister.
func (c *Client) RegisterType(typeName string, ctor Constructor) {
	c.registry.Register(typeName, ctor)
}

// Registry exposes the client's type registry so domain packages can attach
// their vocabulary in one pass.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Fetch GETs a document. Any transport failure surfaces as ErrTransport.
func (c *Client) Fetch(ctx context.Context, rawURL string, query url.Values) (*Document, error) {
	return c.do(ctx, http.MethodGet, rawURL, query, nil)
}

// Submit POSTs a form-encoded body and parses the response document.
func (c *Client) Submit(ctx context.Context, rawURL string, query url.Values, form url.Values) (*Document, error) {
	return c.do(ctx, http.MethodPost, rawURL, query, form)
}

func (c *Client) do(ctx context.Context, method, rawURL string, query url.Values, form url.Values) (*Document, error) {
	requestURL := rawURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		requestURL = rawURL + sep + query.Encode()
	}

	c.logger.Debug().
		Str("event", "document.fetch").
		Str("method", method).
		Str("url", rawURL).
		Msg("fetching document")

	var body io.Reader
	if len(form) > 0 {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		metrics.RecordDocumentError("request")
		return nil, &RequestError{Op: method, URL: rawURL, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	res, err := c.http.Do(req)
	if err != nil {
		metrics.RecordDocumentError("transport")
		return nil, &RequestError{Op: method, URL: rawURL, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		metrics.RecordDocumentError("status")
		return nil, &RequestError{Op: method, URL: rawURL, Status: res.StatusCode}
	}

	var raw map[string]any
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		metrics.RecordDocumentError("decode")
		return nil, &RequestError{Op: method, URL: rawURL, Err: err}
	}

	doc := NewDocument(c.registry)
	if err := doc.Parse(raw); err != nil {
		metrics.RecordDocumentError("parse")
		return nil, err
	}

	metrics.RecordDocumentFetch(method)
	return doc, nil
}
