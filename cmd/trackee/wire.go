package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/mustafaturan/bus/v3"

	"nuha.dev/trackee/internal/agent"
	"nuha.dev/trackee/internal/auth"
	"nuha.dev/trackee/internal/backend"
	"nuha.dev/trackee/internal/config"
	"nuha.dev/trackee/internal/credential"
	"nuha.dev/trackee/internal/credential/pgstore"
	"nuha.dev/trackee/internal/credential/prefstore"
	"nuha.dev/trackee/internal/events"
	"nuha.dev/trackee/internal/events/natsfwd"
	"nuha.dev/trackee/internal/geocode"
	"nuha.dev/trackee/internal/geocode/gazetteer"
	"nuha.dev/trackee/internal/journal"
	"nuha.dev/trackee/internal/journal/logjournal"
	"nuha.dev/trackee/internal/journal/pgjournal"
	"nuha.dev/trackee/internal/liveness"
	"nuha.dev/trackee/internal/position"
	"nuha.dev/trackee/internal/position/feed"
	"nuha.dev/trackee/internal/reporter"
)

type app struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	store    credential.Store
	source   position.Source
	feed     *feed.Feed
	resolver geocode.Resolver
	board    *liveness.Board
	bus      *bus.Bus
	fwd      *natsfwd.Forwarder
	journal  journal.Journal
	pgj      *pgjournal.Journal
	rep      *reporter.Reporter
	agent    *agent.Agent
	closers  []func()
}

func newClient(cfg *config.Config) *backend.Client {
	return backend.NewClient(&backend.ClientConfig{
		URL:      cfg.BackendURL,
		LoginURL: backend.LoginURL(cfg.BackendURL, cfg.LoginURL),
		Timeouts: cfg.Timeouts,
	})
}

func connectPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, cfg.DbURL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", "db", err)
	}
	return pool, nil
}

func openStore(ctx context.Context, cfg *config.Config) (credential.Store, func(), error) {
	switch cfg.Credential.Driver {
	case "memory":
		return credential.NewMemStore(), func() {}, nil
	case "postgres":
		pool, err := connectPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		st := pgstore.NewCredStore(pool)
		if err = st.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	default:
		st, err := prefstore.Open(cfg.Credential.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	var err error
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if cfg.Credential.Driver == "postgres" || cfg.Journal.Driver == "postgres" {
		if a.pool, err = connectPool(ctx, cfg); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.pool.Close)
	}

	switch cfg.Credential.Driver {
	case "postgres":
		st := pgstore.NewCredStore(a.pool)
		if err = st.Init(ctx); err != nil {
			return nil, err
		}
		a.store = st
	case "memory":
		a.store = credential.NewMemStore()
	default:
		if a.store, err = prefstore.Open(cfg.Credential.Path); err != nil {
			return nil, err
		}
	}

	switch cfg.Position.Driver {
	case "static":
		a.source = &position.Static{Latitude: cfg.Position.StaticLat, Longitude: cfg.Position.StaticLon}
	default:
		a.feed = feed.NewFeed(&feed.FeedConfig{ListenAddr: cfg.Position.ListenAddr, MaxAge: cfg.Position.MaxAge})
		if err = a.feed.Listen(); err != nil {
			return nil, err
		}
		a.source = a.feed
	}

	if cfg.Geocode.Gazetteer != "" {
		var g *gazetteer.Gazetteer
		if g, err = gazetteer.Load(cfg.Geocode.Gazetteer, cfg.Geocode.MaxDistanceKm); err != nil {
			return nil, err
		}
		a.resolver = g
	}

	switch cfg.Journal.Driver {
	case "postgres":
		if _, err = a.pool.Exec(ctx, pgjournal.Schema(cfg.Journal.Table)); err != nil {
			return nil, fmt.Errorf("create journal table: %w", err)
		}
		a.pgj = pgjournal.New(a.pool, pgjournal.Config{
			Table:       cfg.Journal.Table,
			BufSize:     cfg.Journal.BufSize,
			MaxAgeFlush: cfg.Journal.FlushInterval,
		})
		a.journal = a.pgj
	case "none":
		a.journal = journal.Discard{}
	default:
		a.journal = logjournal.New(os.Stdout)
	}

	if a.bus, err = events.New(1); err != nil {
		return nil, err
	}
	if cfg.Nats.URL != "" {
		if a.fwd, err = natsfwd.Connect(cfg.Nats.URL, cfg.Nats.Subject); err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.fwd.Attach(a.bus)
		a.closers = append(a.closers, func() { _ = a.fwd.Close() })
	}

	a.board = liveness.NewBoard()
	client := newClient(cfg)
	refresher := auth.NewRefresher(&auth.RefresherConfig{
		TokenURL:     cfg.Auth.TokenURL,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Timeouts:     cfg.Timeouts,
	})
	a.rep, err = reporter.New(reporter.Deps{
		Store:     a.store,
		Source:    a.source,
		Resolver:  a.resolver,
		Sender:    client,
		Refresher: refresher,
		Liveness:  liveness.Multi{liveness.NewLogSignal(), a.board},
		Events:    a.bus,
		Journal:   a.journal,
	}, reporter.Config{Cadence: cfg.Cadence})
	if err != nil {
		return nil, err
	}
	a.agent = agent.New(a.rep, a.store, client, a.board)
	a.agent.Attach(a.bus)
	return a, nil
}

// startBackground runs the position feed and the journal flusher until the
// app is closed. They outlive the signal context so the agent can finish its
// last cycle and journal it before they stop.
func (a *app) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	if a.feed != nil {
		go func() {
			if err := a.feed.Serve(ctx); err != nil {
				l := mainLogger()
				l.Error().Err(err).Msg("position feed stopped")
			}
		}()
	}
	if a.pgj != nil {
		go a.pgj.Run(ctx)
		a.closers = append(a.closers, a.pgj.Wait)
	}
	a.closers = append(a.closers, cancel)
}

// close releases resources in reverse order of acquisition, after the
// journal has flushed.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
