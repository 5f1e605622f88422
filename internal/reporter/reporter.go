// Package reporter runs the periodic reporting cycle: read credentials,
// sample the position, resolve a place name, send, and reauthenticate at
// most once when the backend answers 401.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/trackee/internal/auth"
	"nuha.dev/trackee/internal/backend"
	"nuha.dev/trackee/internal/credential"
	"nuha.dev/trackee/internal/events"
	"nuha.dev/trackee/internal/geocode"
	"nuha.dev/trackee/internal/journal"
	"nuha.dev/trackee/internal/liveness"
	"nuha.dev/trackee/internal/position"
	"nuha.dev/trackee/internal/util"
)

const (
	PLACE_UNAVAILABLE = "Location unavailable"
	PLACE_SIGNED_OUT  = "Signed out"
)

const (
	CYCLE_DONE      string = "cycle_done"
	REFRESH_STORED  string = "refresh_stored"
	REAUTH_REQUIRED string = "reauth_required"
)

var (
	ErrMisconfigured  = errors.New("reporter misconfigured")
	ErrAlreadyRunning = errors.New("reporting loop already running")
)

type Sender interface {
	Send(ctx context.Context, p backend.Payload, accessToken string) backend.Outcome
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (auth.Token, error)
}

type Deps struct {
	Store     credential.Store
	Source    position.Source
	Resolver  geocode.Resolver
	Sender    Sender
	Refresher Refresher
	Liveness  liveness.Signal
	Events    events.Emitter
	Journal   journal.Journal
}

type Config struct {
	Cadence time.Duration
	Clock   func() time.Time
}

// attempt is the state of the send-with-reauthentication sequence.
type attempt int

const (
	firstAttempt attempt = iota
	retryAfterRefresh
)

type Reporter struct {
	deps     Deps
	config   Config
	ticker   func(d time.Duration) (<-chan time.Time, func())
	cycle_mu sync.Mutex
	running  int32
	last_mu  sync.Mutex
	last     *Result
	log      log.Logger
}

func New(deps Deps, config Config) (*Reporter, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: no credential store", ErrMisconfigured)
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("%w: no position source", ErrMisconfigured)
	}
	if deps.Sender == nil || deps.Refresher == nil {
		return nil, fmt.Errorf("%w: no backend", ErrMisconfigured)
	}
	if config.Cadence <= 0 {
		return nil, fmt.Errorf("%w: cadence must be positive", ErrMisconfigured)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if deps.Liveness == nil {
		deps.Liveness = liveness.NewLogSignal()
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Journal == nil {
		deps.Journal = journal.Discard{}
	}
	r := &Reporter{deps: deps, config: config, ticker: newTicker}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "reporter").Value()
	return r, nil
}

// Run drives cycles on the configured cadence until ctx is done. The first
// cycle starts immediately. Ticks that fire while a cycle is in flight are
// dropped.
func (r *Reporter) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&r.running, 0)
	tick, stop := r.ticker(r.config.Cadence)
	defer stop()
	r.log.Info().Dur("cadence", r.config.Cadence).Msg("reporting loop started")
	for {
		if ctx.Err() != nil {
			break
		}
		r.RunCycle(ctx)
		select {
		case <-tick:
		default:
		}
		select {
		case <-ctx.Done():
		case <-tick:
		}
	}
	r.log.Info().Msg("reporting loop stopped")
	return nil
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func (r *Reporter) Running() bool {
	return atomic.LoadInt32(&r.running) == 1
}

// RunCycle runs one cycle, waiting for any cycle already in flight.
func (r *Reporter) RunCycle(ctx context.Context) Result {
	r.cycle_mu.Lock()
	defer r.cycle_mu.Unlock()
	return r.cycle(ctx)
}

// TryCycle runs one cycle unless another is in flight.
func (r *Reporter) TryCycle(ctx context.Context) (Result, bool) {
	if !r.cycle_mu.TryLock() {
		return Result{}, false
	}
	defer r.cycle_mu.Unlock()
	return r.cycle(ctx), true
}

// Quiesce runs fn once no cycle is in flight; no cycle starts until fn returns.
func (r *Reporter) Quiesce(fn func()) {
	r.cycle_mu.Lock()
	defer r.cycle_mu.Unlock()
	fn()
}

func (r *Reporter) Last() (Result, bool) {
	r.last_mu.Lock()
	defer r.last_mu.Unlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

func (r *Reporter) cycle(ctx context.Context) Result {
	res := Result{ID: util.GenUUID(), At: r.config.Clock().UTC()}
	if ctx.Err() != nil {
		res.Outcome = Cancelled
		res.Place = PLACE_UNAVAILABLE
		res.Err = ctx.Err()
		r.finish(ctx, &res)
		return res
	}

	cred, err := credential.Load(ctx, r.deps.Store)
	if err != nil {
		res.Outcome = StoreFailure
		res.Err = err
		r.finish(ctx, &res)
		return res
	}
	if !cred.LoggedIn() {
		res.Outcome = LoggedOut
		res.Place = PLACE_SIGNED_OUT
		r.finish(ctx, &res)
		return res
	}

	sample, err := r.deps.Source.Current(ctx)
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome = Cancelled
			res.Place = PLACE_UNAVAILABLE
			res.Err = ctx.Err()
			r.finish(ctx, &res)
			return res
		}
		res.Outcome = Unavailable
		res.Place = PLACE_UNAVAILABLE
		res.Err = err
		r.finish(ctx, &res)
		return res
	}
	res.hasFix = true
	res.Latitude = sample.Latitude
	res.Longitude = sample.Longitude
	res.Place = geocode.PlaceName(ctx, r.deps.Resolver, sample)

	payload := backend.Payload{Lat: sample.Latitude, Lon: sample.Longitude, City: res.Place}
	// an in-flight send, refresh or persist runs to a terminal outcome even
	// when ctx is cancelled; network timeouts still bound it
	r.deliver(context.WithoutCancel(ctx), payload, cred, &res)
	r.finish(ctx, &res)
	return res
}

func (r *Reporter) deliver(ctx context.Context, p backend.Payload, cred credential.Credential, res *Result) {
	token := cred.AccessToken
	state := firstAttempt
	for {
		out := r.deps.Sender.Send(ctx, p, token)
		res.Sends++
		res.Status = out.Status
		switch out.Kind {
		case backend.Success:
			res.Outcome = Delivered
			return
		case backend.PermanentFailure:
			res.Outcome = PermanentFailure
			res.Err = fmt.Errorf("%w: %s", ErrPermanent, out.Reason)
			return
		case backend.Unauthorized:
			if state == retryAfterRefresh {
				res.Outcome = Rejected
				res.Err = ErrRejected
				return
			}
			res.Refreshes++
			tok, err := r.deps.Refresher.Refresh(ctx, cred.RefreshToken)
			if err != nil {
				res.Outcome = RefreshFailed
				res.Err = fmt.Errorf("%w: %v", ErrReauthRequired, err)
				return
			}
			if err := credential.SaveRefreshed(ctx, r.deps.Store, tok.AccessToken, tok.RefreshToken); err != nil {
				res.Outcome = StoreFailure
				res.Err = err
				return
			}
			r.log.Info().Str("event", REFRESH_STORED).Str("cycle_id", res.ID).Bool("rotated", tok.RefreshToken != "").Msg("")
			token = tok.AccessToken
			state = retryAfterRefresh
		default:
			res.Outcome = TransientFailure
			res.Err = fmt.Errorf("%w: %s", ErrTransient, out.Reason)
			return
		}
	}
}

func (r *Reporter) finish(ctx context.Context, res *Result) {
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	r.deps.Liveness.Update(liveness.NewStatus(res.Place, res.Outcome.String(), res.At))

	if res.hasFix {
		r.deps.Journal.Put(journal.Entry{
			CycleID:   res.ID,
			Latitude:  res.Latitude,
			Longitude: res.Longitude,
			City:      res.Place,
			Outcome:   res.Outcome.String(),
			Status:    res.Status,
			Sends:     res.Sends,
			CycleTime: res.At,
		})
	}

	emit_ctx := context.WithoutCancel(ctx)
	if err := r.deps.Events.Emit(emit_ctx, events.CYCLE_COMPLETED, *res); err != nil {
		r.log.Warn().Err(err).Str("topic", events.CYCLE_COMPLETED).Msg("emit failed")
	}
	if res.Outcome == RefreshFailed {
		r.log.Warn().Str("event", REAUTH_REQUIRED).EmbedObject(res).Msg("")
		if err := r.deps.Events.Emit(emit_ctx, events.REAUTH_REQUIRED, *res); err != nil {
			r.log.Warn().Err(err).Str("topic", events.REAUTH_REQUIRED).Msg("emit failed")
		}
	}

	switch res.Outcome {
	case Delivered, LoggedOut:
		r.log.Debug().Str("event", CYCLE_DONE).EmbedObject(res).Msg("")
	default:
		r.log.Info().Str("event", CYCLE_DONE).EmbedObject(res).Msg("")
	}

	last := *res
	r.last_mu.Lock()
	r.last = &last
	r.last_mu.Unlock()
}
