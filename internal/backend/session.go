// Package backend provides the authenticated HTTP session shared by the
// directory and mailbox clients: client-credentials token acquisition and
// refresh, request pacing, and JSON request/response plumbing.
package backend

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
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// refreshMargin is how close to expiry a token is refreshed proactively.
	refreshMargin = 2 * time.Minute

	// HeaderClientRequestID correlates a call with backend-side request logs.
	HeaderClientRequestID = "client-request-id"
)

// Credentials identify the application against the token authority.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
}

// Session is an authenticated connection to one backend surface.
type Session struct {
	surface string
	baseURL string
	creds   Credentials
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Connect establishes a session against one backend surface by acquiring
// an initial access token. A failure here is fatal to the whole run.
func Connect(ctx context.Context, surface, baseURL string, creds Credentials, rps float64, logger *slog.Logger) (*Session, error) {
	if rps <= 0 {
		rps = 4
	}
	s := &Session{
		surface: surface,
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    NewHTTPClient(),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.With("surface", surface),
	}
	if err := s.fetchToken(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", surface, err)
	}
	return s, nil
}

// tokenResponse is the authority's client-credentials grant response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// fetchToken performs the client-credentials grant and stores the token.
func (s *Session) fetchToken(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.creds.ClientID},
		"client_secret": {s.creds.ClientSecret},
		"scope":         {s.creds.Scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token endpoint returned empty access token")
	}

	expiresAt := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)

	// The token is consumed by the backend, not by us, so it is decoded
	// without signature verification purely to surface its claims.
	appID := ""
	if claims, err := parseTokenClaims(tok.AccessToken); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			expiresAt = exp.Time
		}
		if v, ok := claims["appid"].(string); ok {
			appID = v
		}
	}

	s.mu.Lock()
	s.token = tok.AccessToken
	s.expiresAt = expiresAt
	s.mu.Unlock()

	s.logger.Info("session established",
		"app_id", appID,
		"token_expires_at", expiresAt.Format(time.RFC3339),
	)
	return nil
}

// parseTokenClaims decodes JWT claims without verifying the signature.
func parseTokenClaims(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ensureToken returns a token valid for at least the refresh margin,
// refreshing it first when needed.
func (s *Session) ensureToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	fresh := time.Until(s.expiresAt) > refreshMargin
	s.mu.Unlock()

	if fresh {
		return token, nil
	}

	s.logger.Info("refreshing access token")
	if err := s.fetchToken(ctx); err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	s.mu.Lock()
	token = s.token
	s.mu.Unlock()
	return token, nil
}

// Do issues one JSON API call against the session's surface. A nil out
// discards the response body. Expected HTTP statuses map to errors as
// follows: 404 → ErrNotFound, anything else >= 400 → *APIError. A single
// retry is attempted on 429, honoring Retry-After.
func (s *Session) Do(ctx context.Context, method, path string, in, out any) error {
	if err := s.do(ctx, method, path, in, out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
			delay := apiErr.RetryAfter
			if delay <= 0 {
				delay = time.Second
			}
			s.logger.Warn("throttled by backend, retrying once",
				"path", path,
				"retry_after", delay,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			return s.do(ctx, method, path, in, out)
		}
		return err
	}
	return nil
}

func (s *Session) do(ctx context.Context, method, path string, in, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := s.ensureToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderClientRequestID, uuid.NewString())
	req.Header.Set("User-Agent", "bulkprov/1.0")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return newAPIError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
