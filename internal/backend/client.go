// Package backend talks to the tracking backend: location reports and login.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/trackee/internal/credential"
	"nuha.dev/trackee/internal/util"
)

const (
	REPORT_SENT   string = "report_sent"
	REPORT_FAILED string = "report_failed"
	LOGIN_OK      string = "login_ok"
	LOGIN_FAILED  string = "login_failed"
)

var (
	ErrLoginRejected     = errors.New("login rejected")
	ErrMalformedResponse = errors.New("malformed response")
	ErrUnexpectedStatus  = errors.New("unexpected status")
)

// StatusError is returned for unexpected HTTP statuses outside of Send.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Payload is the wire body of a location report.
type Payload struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	City string  `json:"city"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token *credential.Credential `json:"token"`
}

type ClientConfig struct {
	URL      string
	LoginURL string
	Timeouts util.Timeouts
}

type Client struct {
	config *ClientConfig
	http   *http.Client
	vld    *validator.Validate
	log    log.Logger
}

func NewClient(config *ClientConfig) *Client {
	c := &Client{config: config}
	c.http = util.NewHTTPClient(config.Timeouts)
	c.vld = validator.New()
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "backend").Value()
	return c
}

// LoginURL defaults to <backend-url>/login.
func LoginURL(backendURL, loginURL string) string {
	if loginURL != "" {
		return loginURL
	}
	return strings.TrimRight(backendURL, "/") + "/login"
}

// Send posts one report. It never returns an error: every failure is folded
// into the outcome.
func (c *Client) Send(ctx context.Context, p Payload, accessToken string) Outcome {
	body, err := json.Marshal(p)
	if err != nil {
		return Outcome{Kind: PermanentFailure, Reason: "encode payload: " + err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeouts.Total())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: PermanentFailure, Reason: "build request: " + err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", util.GenUUID())

	res, err := c.http.Do(req)
	if err != nil {
		o := Outcome{Kind: TransientFailure, Reason: err.Error()}
		c.log.Warn().Str("event", REPORT_FAILED).EmbedObject(o).Msg("")
		return o
	}
	defer util.DrainClose(res.Body)
	o := Outcome{Kind: Classify(res.StatusCode), Status: res.StatusCode}
	if o.Kind != Success {
		o.Reason = res.Status
		c.log.Warn().Str("event", REPORT_FAILED).EmbedObject(o).Msg("")
	} else {
		c.log.Debug().Str("event", REPORT_SENT).EmbedObject(o).Msg("")
	}
	return o
}

// Login exchanges user credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (credential.Credential, error) {
	lreq := LoginRequest{Email: email, Password: password}
	if err := c.vld.Struct(lreq); err != nil {
		return credential.Credential{}, err
	}
	body, err := json.Marshal(lreq)
	if err != nil {
		return credential.Credential{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeouts.Total())
	defer cancel()
	url := LoginURL(c.config.URL, c.config.LoginURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return credential.Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", util.GenUUID())

	res, err := c.http.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("event", LOGIN_FAILED).Msg("")
		return credential.Credential{}, fmt.Errorf("login: %w", err)
	}
	defer util.DrainClose(res.Body)
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		c.log.Info().Str("event", LOGIN_FAILED).Int("status", res.StatusCode).Msg("")
		return credential.Credential{}, ErrLoginRejected
	case res.StatusCode < 200 || res.StatusCode >= 300:
		c.log.Error().Str("event", LOGIN_FAILED).Int("status", res.StatusCode).Msg("")
		return credential.Credential{}, &StatusError{Code: res.StatusCode}
	}
	lres := LoginResponse{}
	if err = json.NewDecoder(res.Body).Decode(&lres); err != nil {
		return credential.Credential{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if lres.Token == nil || lres.Token.AccessToken == "" {
		return credential.Credential{}, fmt.Errorf("%w: missing token.access_token", ErrMalformedResponse)
	}
	c.log.Info().Str("event", LOGIN_OK).Msg("")
	return *lres.Token, nil
}
