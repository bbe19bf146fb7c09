package tumblr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"tb-go/internal/config"
	"tb-go/internal/tb"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 32 << 20

// Client talks to the post API on behalf of the stored credential.
type Client struct {
	cfg     config.RemoteConfig
	baseURL *url.URL
	authed  *http.Client
	plain   *http.Client
	tokens  *tokenSource
	clock   tb.Clock
	logger  tb.Logger
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport sets the transport requests are sent over.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// NewClient creates a Client. The credential is loaded from store on first use.
func NewClient(cfg config.RemoteConfig, store tb.CredentialStore, clock tb.Clock, logger tb.Logger, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("remote client_id is not configured")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("remote token_url is not configured")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = config.DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultTimeout
	}

	base := cfg.BaseURL
	if base == "" {
		base = config.DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing base_url: %w", err)
	}

	o := options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		cfg:     cfg,
		baseURL: baseURL,
		clock:   clock,
		logger:  logger,
		plain:   &http.Client{Transport: o.transport, Timeout: cfg.Timeout},
	}
	c.tokens = &tokenSource{
		store:  store,
		grant:  c.requestToken,
		clock:  clock,
		margin: cfg.RefreshMargin,
		logger: logger,
	}
	c.authed = &http.Client{
		Transport: &bearerTransport{base: o.transport, tokens: c.tokens},
		Timeout:   cfg.Timeout,
	}
	return c, nil
}

// envelope is the wrapper around every API response body.
type envelope struct {
	Response json.RawMessage `json:"response"`
}

// do sends an authorized request and decodes the response payload into out.
// A 401 with a token that looked valid is retried once with a fresh token.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		c.logger.Debug("api request", "method", method, "path", u.Path, "attempt", attempt)
		resp, err := c.authed.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, u.Path, err)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 1 {
			c.logger.Warn("access token rejected, refreshing", "path", u.Path)
			c.tokens.Invalidate(bearerToken(req, resp))
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return newRemoteAPIError(req, resp, data, c.clock.Now())
		}

		if out == nil {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("decoding response envelope: %w", err)
		}
		if err := json.Unmarshal(env.Response, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}
}

// bearerToken returns the token that was sent with the request behind resp.
func bearerToken(req *http.Request, resp *http.Response) string {
	sent := req
	if resp.Request != nil {
		sent = resp.Request
	}
	return strings.TrimPrefix(sent.Header.Get("Authorization"), "Bearer ")
}
