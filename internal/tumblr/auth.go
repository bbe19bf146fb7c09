package tumblr

import (
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

	"golang.org/x/sync/singleflight"

	"tb-go/internal/tb"
)

// Scope requested by the authorization-code grant. offline_access is what
// makes the server issue a refresh token.
const Scope = "basic write offline_access"

// tokenResponse is the token endpoint's success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// tokenSource hands out access tokens, refreshing the stored credential when
// it has expired. Readers see an immutable snapshot; at most one refresh is
// in flight and every caller that found the token expired shares its result.
type tokenSource struct {
	store  tb.CredentialStore
	grant  func(ctx context.Context, form url.Values) (tb.Credential, error)
	clock  tb.Clock
	margin time.Duration
	logger tb.Logger

	mu      sync.RWMutex
	current *tb.Credential

	group singleflight.Group
}

// Token returns an access token that is valid for at least the safety margin.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	cred, err := s.snapshot()
	if err != nil {
		return "", err
	}
	if cred.Valid(s.clock.Now(), s.margin) {
		return cred.AccessToken, nil
	}
	return s.refresh(ctx)
}

// Invalidate marks token as unusable so the next call refreshes. It has no
// effect if a newer token has already replaced it.
func (s *tokenSource) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.AccessToken == token {
		expired := *s.current
		expired.ExpiresAt = time.Time{}
		s.current = &expired
	}
}

// Set replaces the credential after an authorization-code grant.
func (s *tokenSource) Set(cred tb.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &cred
}

// snapshot returns the current credential, loading it from the store on first use.
func (s *tokenSource) snapshot() (tb.Credential, error) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur != nil {
		return *cur, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		cred, err := s.store.Load()
		if err != nil {
			return tb.Credential{}, err
		}
		s.current = &cred
	}
	return *s.current, nil
}

// refresh runs the refresh-token grant once for all concurrent callers. The
// grant is detached from the caller's cancellation so that a caller giving up
// cannot abort a refresh others are waiting on.
func (s *tokenSource) refresh(ctx context.Context) (string, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		cred, err := s.snapshot()
		if err != nil {
			return "", err
		}
		if cred.Valid(s.clock.Now(), s.margin) {
			return cred.AccessToken, nil
		}
		if cred.RefreshToken == "" {
			return "", tb.ErrMissingCredential
		}

		s.logger.Info("refreshing access token", "expired_at", cred.ExpiresAt)
		next, err := s.grant(context.WithoutCancel(ctx), url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {cred.RefreshToken},
		})
		if err != nil {
			var apiErr *tb.RemoteAPIError
			if errors.As(err, &apiErr) && refreshRejected(apiErr) {
				return "", fmt.Errorf("%w: %v", tb.ErrAuthenticationExpired, apiErr)
			}
			return "", fmt.Errorf("refreshing access token: %w", err)
		}
		if next.RefreshToken == "" {
			next.RefreshToken = cred.RefreshToken
		}

		if err := s.store.Save(next); err != nil {
			return "", fmt.Errorf("saving refreshed credential: %w", err)
		}
		s.Set(next)
		s.logger.Debug("access token refreshed", "expires_at", next.ExpiresAt)
		return next.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refreshRejected reports whether the token endpoint refused the refresh
// token itself, as opposed to failing transiently.
func refreshRejected(apiErr *tb.RemoteAPIError) bool {
	if apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized {
		return true
	}
	return strings.Contains(apiErr.Message, "invalid_grant")
}

// bearerTransport authorizes every request with the current access token.
type bearerTransport struct {
	base   http.RoundTripper
	tokens *tokenSource
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.Token(req.Context())
	if err != nil {
		return nil, err
	}

	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(authed)
}

// AuthorizationURL returns the page where the user grants access. state is
// echoed back on the redirect and must be verified by the caller.
func (c *Client) AuthorizationURL(state string) string {
	q := url.Values{
		"client_id":     {c.cfg.ClientID},
		"response_type": {"code"},
		"scope":         {Scope},
		"state":         {state},
	}
	if c.cfg.RedirectURL != "" {
		q.Set("redirect_uri", c.cfg.RedirectURL)
	}

	sep := "?"
	if strings.Contains(c.cfg.AuthorizeURL, "?") {
		sep = "&"
	}
	return c.cfg.AuthorizeURL + sep + q.Encode()
}

// ExchangeCode completes the authorization-code grant and stores the
// resulting credential.
func (c *Client) ExchangeCode(ctx context.Context, code string) (tb.Credential, error) {
	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	if c.cfg.RedirectURL != "" {
		form.Set("redirect_uri", c.cfg.RedirectURL)
	}

	cred, err := c.requestToken(ctx, form)
	if err != nil {
		return tb.Credential{}, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if cred.RefreshToken == "" {
		return tb.Credential{}, fmt.Errorf("exchanging authorization code: server issued no refresh token")
	}

	if err := c.tokens.store.Save(cred); err != nil {
		return tb.Credential{}, fmt.Errorf("saving credential: %w", err)
	}
	c.tokens.Set(cred)
	c.logger.Info("authorization complete", "scope", cred.Scope, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// requestToken posts a grant to the token endpoint. The expiry is measured
// from when the grant was sent.
func (c *Client) requestToken(ctx context.Context, form url.Values) (tb.Credential, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tb.Credential{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	issued := c.clock.Now()
	resp, err := c.plain.Do(req)
	if err != nil {
		return tb.Credential{}, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return tb.Credential{}, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tb.Credential{}, newRemoteAPIError(req, resp, body, c.clock.Now())
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return tb.Credential{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return tb.Credential{}, fmt.Errorf("token response has no access_token")
	}

	return tb.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    issued.Add(time.Duration(tr.ExpiresIn) * time.Second),
		Scope:        tr.Scope,
	}, nil
}
