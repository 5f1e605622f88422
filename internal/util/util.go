package util

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Timeouts bound each phase of an outbound HTTP exchange.
type Timeouts struct {
	Connect time.Duration `mapstructure:"connect" validate:"gt=0"`
	Write   time.Duration `mapstructure:"write" validate:"gt=0"`
	Read    time.Duration `mapstructure:"read" validate:"gt=0"`
}

// Total is the budget for a whole request: connect, write the body, read the response.
func (t Timeouts) Total() time.Duration {
	return t.Connect + t.Write + t.Read
}

func NewHTTPClient(t Timeouts) *http.Client {
	dialer := &net.Dialer{Timeout: t.Connect, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// DrainClose discards what is left of a response body so the connection can be reused.
func DrainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

func JsonWrite(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		panic(err)
	}
}

func GenUUID() string {
	x, err := uuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return x.String()
}
