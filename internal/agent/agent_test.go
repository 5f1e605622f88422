package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuha.dev/trackee/internal/auth"
	"nuha.dev/trackee/internal/backend"
	"nuha.dev/trackee/internal/credential"
	"nuha.dev/trackee/internal/events"
	"nuha.dev/trackee/internal/liveness"
	"nuha.dev/trackee/internal/position"
	"nuha.dev/trackee/internal/reporter"
)

type fakeLoop struct {
	runs   int32
	active int32
	mu     sync.Mutex
	busy   bool
	last   *reporter.Result
}

func (f *fakeLoop) Run(ctx context.Context) error {
	atomic.AddInt32(&f.runs, 1)
	if !atomic.CompareAndSwapInt32(&f.active, 0, 1) {
		return reporter.ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&f.active, 0)
	<-ctx.Done()
	return nil
}

func (f *fakeLoop) TryCycle(context.Context) (reporter.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return reporter.Result{}, false
	}
	res := reporter.Result{ID: "c1", Outcome: reporter.Delivered, Place: "Paris"}
	f.last = &res
	return res, true
}

func (f *fakeLoop) Quiesce(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeLoop) Last() (reporter.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return reporter.Result{}, false
	}
	return *f.last, true
}

type fakeLogin struct {
	cred credential.Credential
	err  error
}

func (f *fakeLogin) Login(context.Context, string, string) (credential.Credential, error) {
	return f.cred, f.err
}

func newAgent(t *testing.T) (*Agent, *fakeLoop, *credential.MemStore, *fakeLogin) {
	t.Helper()
	loop := &fakeLoop{}
	store := credential.NewMemStore()
	login := &fakeLogin{cred: credential.Credential{AccessToken: "T1", RefreshToken: "R1"}}
	return New(loop, store, login, liveness.NewBoard()), loop, store, login
}

func TestStartStopSingleLoop(t *testing.T) {
	a, loop, _, _ := newAgent(t)
	assert.True(t, a.Start())
	assert.False(t, a.Start())
	assert.True(t, a.Running())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&loop.active) == 1 }, time.Second, time.Millisecond)

	assert.True(t, a.Stop())
	assert.False(t, a.Stop())
	assert.False(t, a.Running())
	assert.EqualValues(t, 0, atomic.LoadInt32(&loop.active))
	assert.EqualValues(t, 1, atomic.LoadInt32(&loop.runs))
}

func TestBootOnlyWhenLoggedIn(t *testing.T) {
	a, _, store, _ := newAgent(t)
	started, err := a.Boot(context.Background())
	require.NoError(t, err)
	assert.False(t, started)

	require.NoError(t, credential.Save(context.Background(), store, credential.Credential{AccessToken: "T1"}))
	started, err = a.Boot(context.Background())
	require.NoError(t, err)
	assert.True(t, started)
	a.Stop()
}

func TestLoginStoresAndStarts(t *testing.T) {
	a, _, store, _ := newAgent(t)
	require.NoError(t, a.Login(context.Background(), "driver@example.com", "secret"))
	assert.True(t, a.Running())

	cred, err := credential.Load(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "T1", cred.AccessToken)
	assert.Equal(t, "R1", cred.RefreshToken)

	require.NoError(t, a.Logout(context.Background()))
	assert.False(t, a.Running())
	cred, err = credential.Load(context.Background(), store)
	require.NoError(t, err)
	assert.False(t, cred.LoggedIn())
}

func TestLoginRejected(t *testing.T) {
	a, _, store, login := newAgent(t)
	login.err = backend.ErrLoginRejected
	err := a.Login(context.Background(), "driver@example.com", "wrong")
	assert.ErrorIs(t, err, backend.ErrLoginRejected)
	assert.False(t, a.Running())
	cred, _ := credential.Load(context.Background(), store)
	assert.False(t, cred.LoggedIn())
}

func TestReportNow(t *testing.T) {
	a, loop, store, _ := newAgent(t)
	_, err := a.ReportNow(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	require.NoError(t, credential.Save(context.Background(), store, credential.Credential{AccessToken: "T1"}))
	res, err := a.ReportNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reporter.Delivered, res.Outcome)

	loop.busy = true
	_, err = a.ReportNow(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestStatusTracksReauth(t *testing.T) {
	a, _, store, _ := newAgent(t)
	b, err := events.New(1)
	require.NoError(t, err)
	a.Attach(b)

	var lifecycle []string
	b.RegisterHandler("test", bus.Handler{
		Handle:  func(_ context.Context, e bus.Event) { lifecycle = append(lifecycle, e.Topic) },
		Matcher: "^tracking\\.",
	})

	require.NoError(t, credential.Save(context.Background(), store, credential.Credential{AccessToken: "T1"}))
	a.board.Update(liveness.NewStatus("Paris", "delivered", time.Now()))
	require.NoError(t, b.Emit(context.Background(), events.REAUTH_REQUIRED, nil))

	st, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.LoggedIn)
	assert.True(t, st.ReauthRequired)
	assert.False(t, st.Running)
	require.NotNil(t, st.Liveness)
	assert.Equal(t, "Paris", st.Liveness.Place)
	assert.Nil(t, st.Last)

	require.NoError(t, a.Login(context.Background(), "driver@example.com", "secret"))
	st, err = a.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.ReauthRequired)
	assert.True(t, st.Running)
	a.Stop()
	assert.Equal(t, []string{events.TRACKING_STARTED, events.TRACKING_STOPPED}, lifecycle)
}

func TestStoreErrorSurfaces(t *testing.T) {
	a, _, _, _ := newAgent(t)
	a.store = errStore{}
	_, err := a.Boot(context.Background())
	assert.ErrorIs(t, err, credential.ErrStore)
}

type errStore struct{}

func (errStore) Get(context.Context, string) (string, error) { return "", errors.New("boom") }
func (errStore) Set(context.Context, string, string) error { return errors.New("boom") }
func (errStore) Delete(context.Context, string) error { return errors.New("boom") }

// gatedSender blocks its first call until released and answers it with 401;
// later calls succeed at once.
type gatedSender struct {
	entered chan struct{}
	release chan struct{}
	calls   int32
}

func (g *gatedSender) Send(context.Context, backend.Payload, string) backend.Outcome {
	if atomic.AddInt32(&g.calls, 1) == 1 {
		close(g.entered)
		<-g.release
		return backend.Outcome{Kind: backend.Unauthorized, Status: 401}
	}
	return backend.Outcome{Kind: backend.Success, Status: 200}
}

type rotatingRefresher struct{}

func (rotatingRefresher) Refresh(context.Context, string) (auth.Token, error) {
	return auth.Token{AccessToken: "T2", RefreshToken: "R2"}, nil
}

func TestLogoutWaitsForInflightReport(t *testing.T) {
	ctx := context.Background()
	store := credential.NewMemStore()
	require.NoError(t, credential.Save(ctx, store, credential.Credential{AccessToken: "T1", RefreshToken: "R1"}))
	sender := &gatedSender{entered: make(chan struct{}), release: make(chan struct{})}
	rep, err := reporter.New(reporter.Deps{
		Store:     store,
		Source:    &position.Static{Latitude: 48.85, Longitude: 2.35},
		Sender:    sender,
		Refresher: rotatingRefresher{},
		Liveness:  liveness.NewBoard(),
	}, reporter.Config{Cadence: time.Hour})
	require.NoError(t, err)
	a := New(rep, store, &fakeLogin{}, liveness.NewBoard())

	reported := make(chan reporter.Result, 1)
	go func() {
		res, _ := a.ReportNow(ctx)
		reported <- res
	}()
	<-sender.entered

	loggedOut := make(chan error, 1)
	go func() { loggedOut <- a.Logout(ctx) }()
	select {
	case <-loggedOut:
		t.Fatal("logout returned while a cycle was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sender.release)
	res := <-reported
	assert.Equal(t, reporter.Delivered, res.Outcome)
	require.NoError(t, <-loggedOut)

	cred, err := credential.Load(ctx, store)
	require.NoError(t, err)
	assert.False(t, cred.LoggedIn())
	assert.Empty(t, cred.RefreshToken)
}
