// Package feed is a position source fed by a local GNSS daemon over TCP.
//
// The daemon connects, sends a LOGIN frame and then streams LOCATION_UPDATE,
// STATUS and GPS_ERROR frames. The feed keeps only the latest fix. A new
// daemon connection replaces the previous one.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/trackee/internal/position"
)

const (
	NEW_CONNECTION      string = "new_connection"
	LOGIN_MESSAGE       string = "login_message"
	LOGIN_MESSAGE_ERROR string = "login_message_error"
	CONNECTION_REPLACED string = "connection_replaced"
	FIX_LOST            string = "fix_lost"
)

var (
	errNotLogin = errors.New("first frame is not a login frame")
	errNotFeed  = errors.New("connection does not speak the feed protocol")
)

type FeedConfig struct {
	ListenAddr   string
	MaxAge       time.Duration
	LoginTimeout time.Duration
}

type Feed struct {
	mu          sync.Mutex
	log         log.Logger
	config      *FeedConfig
	cid_counter uint64
	listener    net.Listener
	current     *Conn
	now         func() time.Time
	lastFix
}

type lastFix struct {
	fix_mu    sync.Mutex
	loc       LocationMessage
	loc_time  time.Time
	has_fix   bool
	lost_time time.Time
}

func NewFeed(config *FeedConfig) *Feed {
	f := &Feed{}
	f.log = log.DefaultLogger
	f.log.Context = log.NewContext(nil).Str("module", "position-feed").Value()
	f.config = config
	if f.config.LoginTimeout == 0 {
		f.config.LoginTimeout = 2 * time.Second
	}
	f.now = time.Now
	return f
}

// Current returns the last fix if it is recent enough and no fix loss was
// reported after it.
func (f *Feed) Current(ctx context.Context) (position.Sample, error) {
	if err := ctx.Err(); err != nil {
		return position.Sample{}, err
	}
	f.fix_mu.Lock()
	defer f.fix_mu.Unlock()
	if !f.has_fix || !f.loc.Fix {
		return position.Sample{}, position.ErrUnavailable
	}
	if !f.lost_time.IsZero() && !f.lost_time.Before(f.loc_time) {
		return position.Sample{}, position.ErrUnavailable
	}
	if f.config.MaxAge > 0 && f.now().Sub(f.loc_time) > f.config.MaxAge {
		return position.Sample{}, position.ErrUnavailable
	}
	observed := f.loc.GpsTime
	if observed.IsZero() {
		observed = f.loc_time
	}
	return position.Sample{Latitude: f.loc.Latitude, Longitude: f.loc.Longitude, ObservedAt: observed.UTC()}, nil
}

func (f *Feed) Listen() error {
	ln, err := net.Listen("tcp", f.config.ListenAddr)
	if err != nil {
		f.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	f.mu.Lock()
	f.listener = &proxyproto.Listener{Listener: ln}
	f.mu.Unlock()
	f.log.Info().Msgf("position feed listening on %s", ln.Addr())
	return nil
}

func (f *Feed) Addr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return nil
	}
	return f.listener.Addr()
}

// Serve accepts daemon connections until ctx is cancelled.
func (f *Feed) Serve(ctx context.Context) error {
	f.mu.Lock()
	ln := f.listener
	f.mu.Unlock()
	if ln == nil {
		return errors.New("feed is not listening")
	}
	go func() {
		<-ctx.Done()
		ln.Close()
		f.mu.Lock()
		if f.current != nil {
			f.current.Close()
		}
		f.mu.Unlock()
	}()
	for {
		_c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.Error().Err(err).Msg("failed to accept new connection")
			return err
		}
		f.mu.Lock()
		cid := f.cid_counter
		f.cid_counter = f.cid_counter + 1
		f.mu.Unlock()
		go f.handle(_c, cid)
	}
}

func (f *Feed) Run(ctx context.Context) error {
	if err := f.Listen(); err != nil {
		return err
	}
	return f.Serve(ctx)
}

func (f *Feed) handle(_c net.Conn, cid uint64) {
	c := NewConn(_c, cid)
	f.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
	msg := FrameMessage{Buffer: make([]byte, 1000)}

	_ = c.SetReadDeadline(f.now().Add(f.config.LoginTimeout))
	// stray clients are dropped before any framing
	ok, err := c.StartsFrame()
	if err == nil && !ok {
		err = errNotFeed
	}
	if err == nil {
		err = ReadMessage(c, &msg)
	}
	if err == nil && msg.Protocol != LOGIN {
		err = errNotLogin
	}
	if err != nil {
		f.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error reading login message")
		c.Close()
		return
	}
	login := LoginMessage{}
	if err = json.Unmarshal(msg.Payload, &login); err != nil {
		f.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error parsing login message")
		c.Close()
		return
	}
	_ = c.SetReadDeadline(time.Time{})
	c.bind(login.Serial)
	f.log.Info().Str("event", LOGIN_MESSAGE).EmbedObject(c).Str("device_type", login.DeviceType).Msg("")

	f.mu.Lock()
	if f.current != nil {
		f.log.Info().Str("event", CONNECTION_REPLACED).EmbedObject(f.current).Msg("")
		f.current.Close()
	}
	f.current = c
	f.mu.Unlock()

	f.run(c, &msg)

	f.mu.Lock()
	if f.current == c {
		f.current = nil
	}
	f.mu.Unlock()
}

func (f *Feed) run(c *Conn, msg *FrameMessage) {
	for {
		err := ReadMessage(c, msg)
		if err != nil {
			f.log.Debug().Err(err).EmbedObject(c).Msg("stop reading from connection")
			c.Close()
			return
		}
		tread := f.now().UTC()
		switch msg.Protocol {
		case LOCATION_UPDATE:
			var loc LocationMessage
			err = json.Unmarshal(msg.Payload, &loc)
			if err != nil {
				f.log.Error().Err(err).EmbedObject(c).Msg("error parsing location data")
				continue
			}
			f.fix_mu.Lock()
			f.loc = loc
			f.loc_time = tread
			f.has_fix = true
			f.fix_mu.Unlock()
			f.log.Trace().EmbedObject(c).Float64("lat", loc.Latitude).Float64("lon", loc.Longitude).Bool("fix", loc.Fix).Msg("location update")
		case STATUS:
			var status StatusMessage
			err = json.Unmarshal(msg.Payload, &status)
			if err != nil {
				f.log.Error().Err(err).EmbedObject(c).Msg("error parsing status data")
				continue
			}
			if !status.GpsStatus {
				f.markLost(c, tread)
			}
		case GPS_ERROR:
			f.markLost(c, tread)
		}
	}
}

func (f *Feed) markLost(c *Conn, t time.Time) {
	f.fix_mu.Lock()
	f.lost_time = t
	f.fix_mu.Unlock()
	f.log.Info().Str("event", FIX_LOST).EmbedObject(c).Msg("")
}
