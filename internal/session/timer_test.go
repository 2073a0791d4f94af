package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountdownFiresImmediatelyWhenExpired(t *testing.T) {
	s := NewStore(testSheet())
	created := testSheet().CreatedAt
	// The client was suspended and reconnects a minute late.
	s.now = func() time.Time { return created.Add(2 * time.Minute) }

	fired := make(chan struct{}, 1)
	c := NewCountdown(s, func() { fired <- struct{}{} }, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background())
	}()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected immediate expiry")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("countdown did not exit after firing")
	}
}

func TestCountdownFiresAtMostOnce(t *testing.T) {
	s := NewStore(testSheet())
	created := testSheet().CreatedAt
	s.now = func() time.Time { return created.Add(2 * time.Minute) }

	var fires int32
	c := NewCountdown(s, func() { atomic.AddInt32(&fires, 1) }, zerolog.Nop())

	assert.True(t, c.fireIfExpired())

	// The winning path completed the submission; later checks are no-ops.
	require.True(t, s.BeginSubmit())
	s.CompleteSubmit(nil)
	assert.True(t, c.fireIfExpired())

	assert.Equal(t, int32(1), atomic.LoadInt32(&fires))
}

func TestCountdownNotExpiredYet(t *testing.T) {
	s := NewStore(testSheet())
	created := testSheet().CreatedAt
	s.now = func() time.Time { return created.Add(30 * time.Second) }

	c := NewCountdown(s, func() { t.Fatal("must not fire with time remaining") }, zerolog.Nop())
	assert.False(t, c.fireIfExpired())
}

func TestCountdownExitsOnCancel(t *testing.T) {
	s := NewStore(testSheet())
	created := testSheet().CreatedAt
	s.now = func() time.Time { return created }

	c := NewCountdown(s, func() { t.Error("must not fire") }, zerolog.Nop())
	c.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("countdown did not exit on cancel")
	}
}

func TestCountdownExitsAfterManualSubmission(t *testing.T) {
	s := NewStore(testSheet())
	created := testSheet().CreatedAt
	s.now = func() time.Time { return created }

	c := NewCountdown(s, func() { t.Error("must not fire for a submitted sheet") }, zerolog.Nop())
	c.interval = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background())
	}()

	// Student submits by hand; the next tick notices and the loop ends.
	require.True(t, s.BeginSubmit())
	s.CompleteSubmit(nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("countdown did not exit after submission")
	}
}

// Countdown racing a manual submission: whichever path takes the latch
// first wins, the other backs off.
func TestCountdownAndManualSubmitRace(t *testing.T) {
	s := NewStore(testSheet())
	created := testSheet().CreatedAt
	s.now = func() time.Time { return created.Add(2 * time.Minute) }

	var submissions int32
	submit := func() {
		if s.BeginSubmit() {
			atomic.AddInt32(&submissions, 1)
			s.CompleteSubmit(nil)
		}
	}

	c := NewCountdown(s, submit, zerolog.Nop())

	go submit() // manual path
	c.Run(context.Background())

	// Give the goroutine a beat to finish.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&submissions))
	assert.True(t, s.Submitted())
}
