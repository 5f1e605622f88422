// Package auth mints new access tokens from a stored refresh token using
// the OAuth2 refresh_token grant.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/phuslu/log"
	"nuha.dev/trackee/internal/util"
)

const (
	TOKEN_REFRESHED string = "token_refreshed"
	REFRESH_FAILED  string = "refresh_failed"
)

var (
	ErrNoRefreshToken    = errors.New("no refresh token stored")
	ErrMalformedResponse = errors.New("malformed token response")
	ErrRefreshRejected   = errors.New("token endpoint rejected refresh")
)

// RefreshError is returned when the token endpoint answers with a non-2xx status.
type RefreshError struct {
	Status int
	Reason string
}

func (e *RefreshError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("token endpoint rejected refresh: %d %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("token endpoint rejected refresh: %d", e.Status)
}

func (e *RefreshError) Unwrap() error { return ErrRefreshRejected }

// Token is a freshly minted pair. RefreshToken is empty when the server did
// not rotate it.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type RefresherConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeouts     util.Timeouts
}

type Refresher struct {
	config *RefresherConfig
	http   *http.Client
	log    log.Logger
}

func NewRefresher(config *RefresherConfig) *Refresher {
	r := &Refresher{config: config}
	r.http = util.NewHTTPClient(config.Timeouts)
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "token-refresher").Value()
	return r
}

// Refresh performs a single refresh_token grant. It does not touch the
// credential store.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		r.log.Warn().Str("event", REFRESH_FAILED).Err(ErrNoRefreshToken).Msg("")
		return Token{}, ErrNoRefreshToken
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeouts.Total())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.SetBasicAuth(r.config.ClientID, r.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := r.http.Do(req)
	if err != nil {
		r.log.Error().Str("event", REFRESH_FAILED).Err(err).Msg("token endpoint unreachable")
		return Token{}, fmt.Errorf("refresh: %w", err)
	}
	defer util.DrainClose(res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		oe := oauthError{}
		_ = json.NewDecoder(res.Body).Decode(&oe)
		rerr := &RefreshError{Status: res.StatusCode, Reason: oe.Error}
		r.log.Warn().Str("event", REFRESH_FAILED).Err(rerr).Msg("")
		return Token{}, rerr
	}
	tok := Token{}
	if err = json.NewDecoder(res.Body).Decode(&tok); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if tok.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}
	r.log.Info().Str("event", TOKEN_REFRESHED).Bool("rotated", tok.RefreshToken != "").Msg("")
	return tok, nil
}
