package backend

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackee/internal/credential"
	"nuha.dev/trackee/internal/util"
)

var testTimeouts = util.Timeouts{Connect: time.Second, Write: time.Second, Read: time.Second}

func newTestClient(url string) *Client {
	return NewClient(&ClientConfig{URL: url, Timeouts: testTimeouts})
}

func TestSendSuccess(t *testing.T) {
	var gotBody, gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := newTestClient(srv.URL).Send(context.Background(), Payload{Lat: 48.85, Lon: 2.35, City: "Paris"}, "T1")
	assert.Equal(t, Success, o.Kind)
	assert.Equal(t, 200, o.Status)
	assert.Equal(t, `{"lat":48.85,"lon":2.35,"city":"Paris"}`, gotBody)
	assert.Equal(t, "Bearer T1", gotAuth)
	assert.Equal(t, "application/json", gotType)
}

func TestSendStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{status: 201, want: Success},
		{status: 204, want: Success},
		{status: 401, want: Unauthorized},
		{status: 403, want: TransientFailure},
		{status: 404, want: TransientFailure},
		{status: 500, want: TransientFailure},
		{status: 503, want: TransientFailure},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		o := newTestClient(srv.URL).Send(context.Background(), Payload{City: "x"}, "T")
		srv.Close()
		assert.Equal(t, tc.want, o.Kind, "status %d", tc.status)
		assert.Equal(t, tc.status, o.Status)
	}
}

func TestSendTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(&ClientConfig{URL: srv.URL, Timeouts: util.Timeouts{Connect: time.Second, Write: time.Second, Read: 100 * time.Millisecond}})
	o := c.Send(context.Background(), Payload{City: "x"}, "T")
	assert.Equal(t, TransientFailure, o.Kind)
	assert.Zero(t, o.Status)
	assert.NotEmpty(t, o.Reason)
}

func TestSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o := newTestClient(url).Send(context.Background(), Payload{City: "x"}, "T")
	assert.Equal(t, TransientFailure, o.Kind)
}

func TestSendUnencodablePayload(t *testing.T) {
	o := newTestClient("http://127.0.0.1:1").Send(context.Background(), Payload{Lat: math.NaN()}, "T")
	assert.Equal(t, PermanentFailure, o.Kind)
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/login", r.URL.Path)
		req := LoginRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		util.JsonWrite(w, map[string]interface{}{
			"token": map[string]string{"access_token": "A", "refresh_token": "R"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL + "/api")
	cred, err := c.Login(context.Background(), "driver@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, credential.Credential{AccessToken: "A", RefreshToken: "R"}, cred)

	_, err = c.Login(context.Background(), "driver@example.com", "wrong")
	assert.ErrorIs(t, err, ErrLoginRejected)

	_, err = c.Login(context.Background(), "", "secret")
	assert.Error(t, err)
}

func TestLoginMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		util.JsonWrite(w, map[string]string{"access_token": "A"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Login(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestLoginURL(t *testing.T) {
	assert.Equal(t, "http://h/api/login", LoginURL("http://h/api/", ""))
	assert.Equal(t, "http://h/users/login", LoginURL("http://h/api", "http://h/users/login"))
}

func TestLoginUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Login(context.Background(), "a", "b")
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusServiceUnavailable, serr.Code)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.NotErrorIs(t, err, ErrLoginRejected)
}
