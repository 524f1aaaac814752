package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voiceplay/internal/domain"
)

const room = domain.RoomID("-1001")

type harness struct {
	sess      *CallSession
	transport *fakeTransport
	resolver  *fakeResolver
	observer  *fakeObserver
	store     *fakeStore
	closed    atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		resolver:  &fakeResolver{fail: map[string]bool{}},
		observer:  &fakeObserver{},
		store:     newFakeStore(),
	}
	h.sess = NewCallSession(room, SessionDeps{
		Transport: h.transport,
		Resolver:  h.resolver,
		Store:     h.store,
		Observer:  h.observer,
		Policy:    tablePolicy{},
	}, func(*CallSession) { h.closed.Add(1) })
	return h
}

func item(id string) *domain.MediaItem {
	return &domain.MediaItem{ID: id, Title: "track " + id, Duration: 180, Kind: domain.KindAudio}
}

func TestRequestStartsIdleSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pos, err := h.sess.Request(ctx, item("a"))
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Equal(t, StatePlaying, h.sess.State())
	assert.True(t, h.store.isActive(room))

	queue := h.sess.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, "h-1", queue[0].Handle)

	pos, err = h.sess.Request(ctx, item("b"))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Len(t, h.transport.played(), 1, "queued item must not interrupt playback")
	n, ok := h.observer.find(NoticeQueued)
	require.True(t, ok)
	assert.Equal(t, 1, n.Position)
}

func TestStreamEndedAdvancesOnlyOnAudio(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sess.Request(ctx, item("a"))
	require.NoError(t, err)
	_, err = h.sess.Request(ctx, item("b"))
	require.NoError(t, err)

	require.NoError(t, h.sess.OnStreamEnded(ctx, domain.KindVideo))
	assert.Equal(t, "a", h.sess.Queue()[0].ID)
	assert.Len(t, h.transport.played(), 1)

	require.NoError(t, h.sess.OnStreamEnded(ctx, domain.KindAudio))
	queue := h.sess.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, "b", queue[0].ID)
	assert.Equal(t, "h-2", queue[0].Handle)

	retired, ok := h.observer.find(NoticeRetired)
	require.True(t, ok)
	assert.Equal(t, "h-1", retired.Handle)

	// last item ends: session is gone, nothing refers to the old handle
	require.NoError(t, h.sess.OnStreamEnded(ctx, domain.KindAudio))
	assert.True(t, h.sess.Closed())
	assert.Empty(t, h.sess.Queue())
	assert.Equal(t, int32(1), h.closed.Load())
	assert.Equal(t, StateIdle, h.sess.State())
	assert.False(t, h.store.isActive(room))
}

func TestAcquisitionFailureSkipsToNextItem(t *testing.T) {
	h := newHarness(t)
	h.resolver.fail["bad"] = true
	ctx := context.Background()

	h.sess.queue.Enqueue(item("bad"))
	h.sess.queue.Enqueue(item("good"))
	require.NoError(t, h.sess.Play(ctx))

	assert.Equal(t, StatePlaying, h.sess.State())
	require.Len(t, h.sess.Queue(), 1)
	assert.Equal(t, "good", h.sess.Queue()[0].ID)
	_, ok := h.observer.find(NoticeSkipped)
	assert.True(t, ok)
}

func TestAllAcquisitionsFailStopsWithNotice(t *testing.T) {
	h := newHarness(t)
	h.resolver.fail["x"] = true
	h.resolver.fail["y"] = true
	ctx := context.Background()

	h.sess.queue.Enqueue(item("x"))
	h.sess.queue.Enqueue(item("y"))
	err := h.sess.Play(ctx)
	require.ErrorIs(t, err, ErrAcquisitionFailed)

	assert.True(t, h.sess.Closed())
	assert.Equal(t, 2, h.resolver.count(), "each item is tried once")
	_, ok := h.observer.find(NoticeNoPlayable)
	assert.True(t, ok)
	assert.Equal(t, int32(1), h.closed.Load())
}

func TestTransportFailureRecovery(t *testing.T) {
	t.Run("source not found advances", func(t *testing.T) {
		h := newHarness(t)
		h.transport.playErr = func(ref domain.PlayableReference) error {
			if ref.URL == "https://media.example/a" {
				return ErrSourceNotFound
			}
			return nil
		}
		h.sess.queue.Enqueue(item("a"))
		h.sess.queue.Enqueue(item("b"))
		require.NoError(t, h.sess.Play(context.Background()))
		assert.Equal(t, "b", h.sess.Queue()[0].ID)
		assert.Equal(t, StatePlaying, h.sess.State())
	})

	t.Run("no active call stops", func(t *testing.T) {
		h := newHarness(t)
		h.transport.playErr = func(domain.PlayableReference) error { return ErrNoActiveCall }
		h.sess.queue.Enqueue(item("a"))
		h.sess.queue.Enqueue(item("b"))
		err := h.sess.Play(context.Background())
		require.ErrorIs(t, err, ErrNoActiveCall)
		assert.True(t, h.sess.Closed())
		assert.Empty(t, h.sess.Queue())
		assert.Equal(t, []NoticeKind{NoticeStopped, NoticeFailed}, h.observer.kinds())
	})

	t.Run("unclassified error propagates and keeps the queue", func(t *testing.T) {
		h := newHarness(t)
		boom := errors.New("boom")
		h.transport.playErr = func(domain.PlayableReference) error { return boom }
		h.sess.queue.Enqueue(item("a"))
		h.sess.queue.Enqueue(item("b"))
		err := h.sess.Play(context.Background())
		require.ErrorIs(t, err, boom)
		assert.False(t, h.sess.Closed())
		assert.Equal(t, StateIdle, h.sess.State())
		assert.Len(t, h.sess.Queue(), 2)
		assert.Equal(t, "a", h.sess.Queue()[0].ID)
	})
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.ErrorIs(t, h.sess.Pause(ctx), ErrInvalidState)

	_, err := h.sess.Request(ctx, item("a"))
	require.NoError(t, err)
	require.NoError(t, h.sess.Pause(ctx))
	assert.Equal(t, StatePaused, h.sess.State())
	assert.True(t, h.sess.Paused())
	assert.True(t, h.store.paused[room])

	require.NoError(t, h.sess.Pause(ctx), "pausing twice is harmless")
	require.NoError(t, h.sess.Resume(ctx))
	assert.Equal(t, StatePlaying, h.sess.State())
	assert.False(t, h.store.paused[room])
	assert.Equal(t, 2, h.transport.pauses)
	assert.Equal(t, 1, h.transport.resumes)
}

func TestRoomClosedStopsFromAnyState(t *testing.T) {
	ctx := context.Background()

	for _, paused := range []bool{false, true} {
		h := newHarness(t)
		_, err := h.sess.Request(ctx, item("a"))
		require.NoError(t, err)
		_, err = h.sess.Request(ctx, item("b"))
		require.NoError(t, err)
		if paused {
			require.NoError(t, h.sess.Pause(ctx))
		}
		require.NoError(t, h.sess.OnRoomClosed(ctx, domain.RoomKicked))
		assert.True(t, h.sess.Closed())
		assert.Empty(t, h.sess.Queue())
		assert.Equal(t, 1, h.transport.leaves)
	}
}

func TestStopDuringAcquisitionDiscardsResult(t *testing.T) {
	h := newHarness(t)
	h.resolver.block = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.sess.Request(ctx, item("slow"))
		done <- err
	}()
	require.Eventually(t, func() bool { return h.sess.State() == StateStarting }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.sess.OnRoomClosed(ctx, domain.RoomCallClosed))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("request did not return after stop")
	}
	assert.Empty(t, h.transport.played())
	assert.Empty(t, h.sess.Queue())
	assert.Equal(t, StateIdle, h.sess.State())

	_, err := h.sess.Request(ctx, item("late"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestStopSwallowsLeaveError(t *testing.T) {
	h := newHarness(t)
	h.transport.leaveErr = ErrConnection
	ctx := context.Background()
	_, err := h.sess.Request(ctx, item("a"))
	require.NoError(t, err)

	require.NoError(t, h.sess.Stop(ctx))
	require.NoError(t, h.sess.Stop(ctx))
	assert.Equal(t, int32(1), h.closed.Load(), "onClose runs once")
	assert.Equal(t, 1, h.transport.leaves)
}

func TestSeekReusesReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sess.Request(ctx, item("a"))
	require.NoError(t, err)

	require.NoError(t, h.sess.Seek(ctx, 42))
	plays := h.transport.played()
	require.Len(t, plays, 2)
	assert.Equal(t, 42, plays[1].Offset)
	assert.Equal(t, plays[0].URL, plays[1].URL)
	assert.Equal(t, 1, h.resolver.count(), "seek must not acquire again")
	assert.Equal(t, StatePlaying, h.sess.State())
	assert.Equal(t, "h-1", h.sess.Queue()[0].Handle, "seek keeps the now-playing handle")

	assert.ErrorIs(t, h.sess.Seek(ctx, 500), ErrSeekOutOfRange)
}

func TestReplayAndSkip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sess.Request(ctx, item("a"))
	require.NoError(t, err)
	_, err = h.sess.Request(ctx, item("b"))
	require.NoError(t, err)

	require.NoError(t, h.sess.Replay(ctx))
	assert.Equal(t, "a", h.sess.Queue()[0].ID)
	assert.Equal(t, "h-2", h.sess.Queue()[0].Handle)
	assert.Equal(t, 1, h.resolver.count())

	require.NoError(t, h.sess.Skip(ctx))
	assert.Equal(t, "b", h.sess.Queue()[0].ID)

	require.NoError(t, h.sess.Skip(ctx))
	assert.True(t, h.sess.Closed())
	assert.ErrorIs(t, h.sess.Skip(ctx), ErrSessionClosed)
}

func TestCallerGoingAwayDoesNotAbandonStart(t *testing.T) {
	h := newHarness(t)
	h.resolver.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := h.sess.Request(ctx, item("a"))
		done <- err
	}()
	require.Eventually(t, func() bool { return h.sess.State() == StateStarting }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		t.Fatalf("request returned after caller cancel: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateStarting, h.sess.State())

	close(h.resolver.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("request did not finish")
	}
	assert.Equal(t, StatePlaying, h.sess.State())
	assert.Len(t, h.transport.played(), 1)
	_, ok := h.observer.find(NoticeNowPlaying)
	assert.True(t, ok)
}

func TestItemQueuedDuringFailedStartIsPlayed(t *testing.T) {
	h := newHarness(t)
	h.resolver.block = make(chan struct{})
	h.resolver.fail["a"] = true
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.sess.Request(ctx, item("a"))
		done <- err
	}()
	require.Eventually(t, func() bool { return h.sess.State() == StateStarting }, time.Second, 5*time.Millisecond)

	pos, err := h.sess.Request(ctx, item("b"))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	close(h.resolver.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("request did not finish")
	}

	assert.Equal(t, StatePlaying, h.sess.State())
	assert.False(t, h.sess.Closed())
	require.Len(t, h.transport.played(), 1)
	assert.Equal(t, "https://media.example/b", h.transport.played()[0].URL)
	_, ok := h.observer.find(NoticeNoPlayable)
	assert.False(t, ok)
	assert.Equal(t, []NoticeKind{NoticeQueued, NoticeSkipped, NoticeNowPlaying}, h.observer.kinds())
}

func TestSeekFromPausedMarksPlaying(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sess.Request(ctx, item("a"))
	require.NoError(t, err)
	require.NoError(t, h.sess.Pause(ctx))
	require.True(t, h.store.isPaused(room))

	require.NoError(t, h.sess.Seek(ctx, 30))
	assert.Equal(t, StatePlaying, h.sess.State())
	assert.False(t, h.store.isPaused(room))
}
