package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voiceplay/internal/app"
	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
	"github.com/dkeye/voiceplay/internal/store"
)

type recTransport struct {
	mu     sync.Mutex
	plays  []string
	leaves []domain.RoomID
	err    error
}

func (t *recTransport) Play(_ context.Context, _ domain.RoomID, ref domain.PlayableReference, _ core.PlayOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.plays = append(t.plays, ref.Location())
	return nil
}
func (t *recTransport) Pause(context.Context, domain.RoomID) error  { return nil }
func (t *recTransport) Resume(context.Context, domain.RoomID) error { return nil }
func (t *recTransport) Leave(_ context.Context, room domain.RoomID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves = append(t.leaves, room)
	return nil
}
func (t *recTransport) Ping() float64 { return 20 }

func (t *recTransport) played() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.plays...)
}

func (t *recTransport) left() []domain.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.RoomID(nil), t.leaves...)
}

type urlResolver struct{}

func (urlResolver) Resolve(_ context.Context, item *domain.MediaItem, video bool) (domain.PlayableReference, error) {
	return domain.RemoteURL("https://media.example/"+item.ID, domain.KindOf(video)), nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *recTransport, *store.Memory) {
	t.Helper()
	tr := &recTransport{}
	st := store.NewMemory()
	pool := app.NewAssistantPool(st, tr)
	o := New(Deps{
		Assistants: pool,
		Clients:    pool,
		Resolver:   urlResolver{},
		Store:      st,
	})
	return o, tr, st
}

func item(id string) *domain.MediaItem {
	return &domain.MediaItem{ID: id, Title: id, Duration: 120, Kind: domain.KindAudio}
}

func TestPlayCreatesSessionAndQueues(t *testing.T) {
	o, tr, _ := newTestOrchestrator(t)
	ctx := context.Background()

	pos, err := o.Play(ctx, "-100", item("aaaaaaaaaaa"))
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	pos, err = o.Play(ctx, "-100", item("bbbbbbbbbbb"))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	assert.Equal(t, []string{"https://media.example/aaaaaaaaaaa"}, tr.played())
	v, err := o.Room("-100")
	require.NoError(t, err)
	assert.Equal(t, core.StatePlaying, v.State)
	require.NotNil(t, v.Current)
	assert.Equal(t, "aaaaaaaaaaa", v.Current.ID)
	assert.Len(t, v.Queue, 2)
}

func TestControlWithoutSession(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	assert.ErrorIs(t, o.Pause(ctx, "1"), core.ErrSessionNotFound)
	assert.ErrorIs(t, o.Resume(ctx, "1"), core.ErrSessionNotFound)
	assert.ErrorIs(t, o.Skip(ctx, "1"), core.ErrSessionNotFound)
	assert.ErrorIs(t, o.Stop(ctx, "1"), core.ErrSessionNotFound)
	assert.ErrorIs(t, o.Seek(ctx, "1", 10), core.ErrSessionNotFound)
	assert.ErrorIs(t, o.Replay(ctx, "1"), core.ErrSessionNotFound)
	_, err := o.Room("1")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestStopThenPlayStartsFreshSession(t *testing.T) {
	o, tr, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Play(ctx, "7", item("aaaaaaaaaaa"))
	require.NoError(t, err)
	require.NoError(t, o.Stop(ctx, "7"))
	assert.Empty(t, o.Rooms())
	assert.Equal(t, []domain.RoomID{"7"}, tr.left())

	_, err = o.Play(ctx, "7", item("ccccccccccc"))
	require.NoError(t, err)
	rooms := o.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.RoomID("7"), rooms[0].ID)
	assert.Equal(t, core.StatePlaying, rooms[0].Status)
}

func TestUnclassifiedFailureKeepsQueue(t *testing.T) {
	o, tr, _ := newTestOrchestrator(t)
	tr.err = errors.New("boom")

	_, err := o.Play(context.Background(), "9", item("aaaaaaaaaaa"))
	require.Error(t, err)

	v, err := o.Room("9")
	require.NoError(t, err)
	assert.Equal(t, core.StateIdle, v.State)
	assert.Nil(t, v.Current)
	assert.Len(t, v.Queue, 1)
}

func TestEventsAdvanceAndClose(t *testing.T) {
	o, tr, _ := newTestOrchestrator(t)
	d := app.NewDispatcher()
	defer d.Close()
	o.BindEvents(d)
	ctx := context.Background()

	_, err := o.Play(ctx, "5", item("aaaaaaaaaaa"))
	require.NoError(t, err)
	_, err = o.Play(ctx, "5", item("bbbbbbbbbbb"))
	require.NoError(t, err)

	d.Dispatch(ctx, core.Event{Kind: core.EventStreamEnded, Room: "5", Stream: domain.KindAudio})
	require.Eventually(t, func() bool { return len(tr.played()) == 2 }, time.Second, 5*time.Millisecond)

	d.Dispatch(ctx, core.Event{Kind: core.EventRoomStatus, Room: "5", Status: domain.RoomOther})
	d.Dispatch(ctx, core.Event{Kind: core.EventRoomStatus, Room: "5", Status: domain.RoomKicked})
	require.Eventually(t, func() bool { return len(o.Rooms()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventForUnknownRoomIsDropped(t *testing.T) {
	o, tr, _ := newTestOrchestrator(t)
	d := app.NewDispatcher()
	o.BindEvents(d)

	d.Dispatch(context.Background(), core.Event{Kind: core.EventStreamEnded, Room: "404", Stream: domain.KindAudio})
	d.Close()
	assert.Empty(t, tr.played())
	assert.Empty(t, o.Rooms())
}

func TestReconcileLeavesStaleCalls(t *testing.T) {
	o, tr, st := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, st.RecordActiveCall(ctx, "11"))
	require.NoError(t, st.RecordActiveCall(ctx, "12"))

	o.Reconcile(ctx)

	assert.ElementsMatch(t, []domain.RoomID{"11", "12"}, tr.left())
	calls, err := st.ActiveCalls(ctx)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestStopAllAndPing(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.Play(ctx, "1", item("aaaaaaaaaaa"))
	require.NoError(t, err)
	_, err = o.Play(ctx, "2", item("bbbbbbbbbbb"))
	require.NoError(t, err)
	assert.Equal(t, 20.0, o.Ping())

	o.StopAll(ctx)
	assert.Empty(t, o.Rooms())
}
