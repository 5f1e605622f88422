// Package agent owns the reporting loop for the lifetime of the process:
// starting it at boot when credentials exist, on login, and stopping it on
// logout or shutdown.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/phuslu/log"

	"nuha.dev/trackee/internal/credential"
	"nuha.dev/trackee/internal/events"
	"nuha.dev/trackee/internal/liveness"
	"nuha.dev/trackee/internal/reporter"
)

const (
	TRACKING_STARTED string = "tracking_started"
	TRACKING_STOPPED string = "tracking_stopped"
	LOGGED_IN        string = "logged_in"
	LOGGED_OUT       string = "logged_out"
)

var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrBusy        = errors.New("a reporting cycle is already in flight")
)

type runningState int

const (
	stopped runningState = iota
	running
)

type Loginer interface {
	Login(ctx context.Context, email, password string) (credential.Credential, error)
}

// Loop is the part of the reporter the agent drives.
type Loop interface {
	Run(ctx context.Context) error
	TryCycle(ctx context.Context) (reporter.Result, bool)
	Quiesce(fn func())
	Last() (reporter.Result, bool)
}

type Status struct {
	Running        bool             `json:"running"`
	LoggedIn       bool             `json:"logged_in"`
	ReauthRequired bool             `json:"reauth_required"`
	Last           *reporter.Result `json:"last,omitempty"`
	Liveness       *liveness.Status `json:"liveness,omitempty"`
}

type Agent struct {
	loop   Loop
	store  credential.Store
	login  Loginer
	board  *liveness.Board
	events events.Emitter

	rs_mu sync.Mutex
	runningState
	cancel context.CancelFunc
	done   chan struct{}

	reauth_mu sync.Mutex
	reauth    bool

	log log.Logger
}

func New(loop Loop, store credential.Store, login Loginer, board *liveness.Board) *Agent {
	a := &Agent{loop: loop, store: store, login: login, board: board}
	a.events = events.Discard{}
	a.runningState = stopped
	a.log = log.DefaultLogger
	a.log.Context = log.NewContext(nil).Str("module", "agent").Value()
	return a
}

// Attach publishes lifecycle events on b and watches it for reauthentication requests.
func (a *Agent) Attach(b *bus.Bus) {
	a.events = b
	b.RegisterHandler("agent", bus.Handler{
		Handle: func(_ context.Context, e bus.Event) {
			a.setReauth(true)
		},
		Matcher: "^" + events.REAUTH_REQUIRED + "$",
	})
}

func (a *Agent) setReauth(v bool) {
	a.reauth_mu.Lock()
	a.reauth = v
	a.reauth_mu.Unlock()
}

// Start launches the reporting loop. It reports false if the loop was already running.
func (a *Agent) Start() bool {
	a.rs_mu.Lock()
	defer a.rs_mu.Unlock()
	if a.runningState == running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	prev := a.done
	a.cancel = cancel
	a.done = make(chan struct{})
	a.runningState = running
	go func(done chan struct{}) {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if err := a.loop.Run(ctx); err != nil {
			a.log.Error().Err(err).Msg("reporting loop exited")
		}
	}(a.done)
	a.log.Info().Str("event", TRACKING_STARTED).Msg("")
	a.emit(events.TRACKING_STARTED)
	return true
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (a *Agent) Stop() bool {
	a.rs_mu.Lock()
	if a.runningState != running {
		a.rs_mu.Unlock()
		return false
	}
	a.cancel()
	done := a.done
	a.runningState = stopped
	a.rs_mu.Unlock()
	<-done
	a.log.Info().Str("event", TRACKING_STOPPED).Msg("")
	a.emit(events.TRACKING_STOPPED)
	return true
}

func (a *Agent) Running() bool {
	a.rs_mu.Lock()
	defer a.rs_mu.Unlock()
	return a.runningState == running
}

// Boot starts tracking if a previous session left an access token behind.
func (a *Agent) Boot(ctx context.Context) (bool, error) {
	cred, err := credential.Load(ctx, a.store)
	if err != nil {
		return false, err
	}
	if !cred.LoggedIn() {
		a.log.Info().Msg("no stored credentials, waiting for login")
		return false, nil
	}
	return a.Start(), nil
}

func (a *Agent) Login(ctx context.Context, email, password string) error {
	cred, err := a.login.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err = credential.Save(ctx, a.store, cred); err != nil {
		return err
	}
	a.setReauth(false)
	a.log.Info().Str("event", LOGGED_IN).Str("email", email).Msg("")
	a.Start()
	return nil
}

// Logout stops the loop and clears the tokens once any out-of-band cycle
// has finished, so a late refresh cannot store new ones.
func (a *Agent) Logout(ctx context.Context) error {
	a.Stop()
	var err error
	a.loop.Quiesce(func() {
		err = credential.Clear(ctx, a.store)
	})
	if err != nil {
		return err
	}
	a.setReauth(false)
	a.log.Info().Str("event", LOGGED_OUT).Msg("")
	return nil
}

// ReportNow runs one cycle outside the cadence, unless one is already running.
func (a *Agent) ReportNow(ctx context.Context) (reporter.Result, error) {
	cred, err := credential.Load(ctx, a.store)
	if err != nil {
		return reporter.Result{}, err
	}
	if !cred.LoggedIn() {
		return reporter.Result{}, ErrNotLoggedIn
	}
	res, ok := a.loop.TryCycle(ctx)
	if !ok {
		return reporter.Result{}, ErrBusy
	}
	return res, nil
}

func (a *Agent) Status(ctx context.Context) (Status, error) {
	st := Status{Running: a.Running()}
	cred, err := credential.Load(ctx, a.store)
	if err != nil {
		return st, err
	}
	st.LoggedIn = cred.LoggedIn()
	a.reauth_mu.Lock()
	st.ReauthRequired = a.reauth
	a.reauth_mu.Unlock()
	if last, ok := a.loop.Last(); ok {
		st.Last = &last
	}
	if a.board != nil {
		if l, ok := a.board.Latest(); ok {
			st.Liveness = &l
		}
	}
	return st, nil
}

func (a *Agent) emit(topic string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.events.Emit(ctx, topic, topic); err != nil {
		a.log.Warn().Err(err).Str("topic", topic).Msg("emit failed")
	}
}
