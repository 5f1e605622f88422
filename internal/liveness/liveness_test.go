package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatus(t *testing.T) {
	at := time.Now()
	s := NewStatus("Paris", "delivered", at)
	assert.Equal(t, TITLE, s.Title)
	assert.Equal(t, "Current location: Paris", s.Text)
}

func TestBoardLatestAndFanout(t *testing.T) {
	b := NewBoard()
	_, ok := b.Latest()
	assert.False(t, ok)

	b.Update(NewStatus("Paris", "delivered", time.Now()))
	sub := b.Subscribe(1)
	first := <-sub.C
	assert.Equal(t, "Paris", first.Place)

	b.Update(NewStatus("Lyon", "delivered", time.Now()))
	second := <-sub.C
	assert.Equal(t, "Lyon", second.Place)

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, "Lyon", latest.Place)
}

func TestBoardSlowSubscriberSkips(t *testing.T) {
	b := NewBoard()
	sub := b.Subscribe(1)
	b.Update(NewStatus("a", "x", time.Now()))
	b.Update(NewStatus("b", "x", time.Now()))
	pushed, skipped := sub.Stat()
	assert.EqualValues(t, 1, pushed)
	assert.EqualValues(t, 1, skipped)

	b.Unsubscribe(sub)
	b.Update(NewStatus("c", "x", time.Now()))
	pushed, _ = sub.Stat()
	assert.EqualValues(t, 1, pushed)
}

type recorder struct{ got []Status }

func (r *recorder) Update(s Status) { r.got = append(r.got, s) }

func TestMulti(t *testing.T) {
	r1, r2 := &recorder{}, &recorder{}
	Multi{r1, r2, NewLogSignal()}.Update(NewStatus("Paris", "delivered", time.Now()))
	assert.Len(t, r1.got, 1)
	assert.Len(t, r2.got, 1)
}
