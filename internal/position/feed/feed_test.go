package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackee/internal/position"
)

func TestFrameRoundTrip(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, WriteMessage(&b, LOCATION_UPDATE, []byte(`{"latitude":1}`)))
	msg := FrameMessage{Buffer: make([]byte, 100)}
	require.NoError(t, ReadMessage(&b, &msg))
	assert.Equal(t, LOCATION_UPDATE, msg.Protocol)
	assert.Equal(t, `{"latitude":1}`, string(msg.Payload))
}

func TestBadFrame(t *testing.T) {
	msg := FrameMessage{Buffer: make([]byte, 100)}
	err := ReadMessage(bytes.NewReader([]byte{0x78, 0x78, 0x01, 0x00, 0x00, '\n'}), &msg)
	assert.True(t, errors.Is(err, errBadFrame))

	err = ReadMessage(bytes.NewReader([]byte{START_BYTE, LOGIN, 0x01, 0x00, 'x', 'y'}), &msg)
	assert.True(t, errors.Is(err, errBadFrame))
}

func sendJSON(t *testing.T, c net.Conn, protocol byte, v interface{}) {
	t.Helper()
	d, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, WriteMessage(c, protocol, d))
}

func startFeed(t *testing.T, maxAge time.Duration) (*Feed, net.Conn) {
	t.Helper()
	f := NewFeed(&FeedConfig{ListenAddr: "127.0.0.1:0", MaxAge: maxAge})
	require.NoError(t, f.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = f.Serve(ctx) }()

	c, err := net.Dial("tcp", f.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	sendJSON(t, c, LOGIN, LoginMessage{SnType: "aid", Serial: "abc", DeviceType: "gnssd"})
	return f, c
}

func TestFeedUnavailableBeforeFirstFix(t *testing.T) {
	f, _ := startFeed(t, time.Minute)
	_, err := f.Current(context.Background())
	assert.True(t, errors.Is(err, position.ErrUnavailable))
}

func TestFeedLatestFix(t *testing.T) {
	f, c := startFeed(t, time.Minute)
	gpst := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	sendJSON(t, c, LOCATION_UPDATE, LocationMessage{GpsTime: gpst, Latitude: 48.85, Longitude: 2.35, Fix: true})

	var s position.Sample
	require.Eventually(t, func() bool {
		var err error
		s, err = f.Current(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 48.85, s.Latitude)
	assert.Equal(t, 2.35, s.Longitude)
	assert.True(t, gpst.Equal(s.ObservedAt))
}

func TestFeedErrorFrameDropsFix(t *testing.T) {
	f, c := startFeed(t, time.Minute)
	sendJSON(t, c, LOCATION_UPDATE, LocationMessage{Latitude: 1, Longitude: 2, Fix: true})
	require.Eventually(t, func() bool {
		_, err := f.Current(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, WriteMessage(c, GPS_ERROR, []byte(`{}`)))
	require.Eventually(t, func() bool {
		_, err := f.Current(context.Background())
		return errors.Is(err, position.ErrUnavailable)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedStaleFix(t *testing.T) {
	f, c := startFeed(t, time.Minute)
	sendJSON(t, c, LOCATION_UPDATE, LocationMessage{Latitude: 1, Longitude: 2, Fix: true})
	require.Eventually(t, func() bool {
		_, err := f.Current(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	f.fix_mu.Lock()
	f.loc_time = f.loc_time.Add(-2 * time.Minute)
	f.fix_mu.Unlock()
	_, err := f.Current(context.Background())
	assert.True(t, errors.Is(err, position.ErrUnavailable))
}

func TestFeedRejectsNonLogin(t *testing.T) {
	f := NewFeed(&FeedConfig{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, f.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Serve(ctx) }()

	c, err := net.Dial("tcp", f.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	sendJSON(t, c, LOCATION_UPDATE, LocationMessage{Latitude: 1, Longitude: 2, Fix: true})

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
	_, err = f.Current(context.Background())
	assert.True(t, errors.Is(err, position.ErrUnavailable))
}

func TestFeedRejectsForeignProtocol(t *testing.T) {
	f := NewFeed(&FeedConfig{ListenAddr: "127.0.0.1:0", LoginTimeout: 5 * time.Second})
	require.NoError(t, f.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Serve(ctx) }()

	c, err := net.Dial("tcp", f.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	// closed on the first byte, well before the login deadline
	start := time.Now()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.True(t, time.Since(start) < 2*time.Second)
}
