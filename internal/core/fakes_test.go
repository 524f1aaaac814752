package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voiceplay/internal/domain"
)

type fakeTransport struct {
	mu       sync.Mutex
	plays    []domain.PlayableReference
	pauses   int
	resumes  int
	leaves   int
	playErr  func(ref domain.PlayableReference) error
	leaveErr error
}

func (t *fakeTransport) Play(ctx context.Context, _ domain.RoomID, ref domain.PlayableReference, _ PlayOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playErr != nil {
		if err := t.playErr(ref); err != nil {
			return err
		}
	}
	t.plays = append(t.plays, ref)
	return nil
}

func (t *fakeTransport) Pause(context.Context, domain.RoomID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauses++
	return nil
}

func (t *fakeTransport) Resume(context.Context, domain.RoomID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumes++
	return nil
}

func (t *fakeTransport) Leave(context.Context, domain.RoomID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves++
	return t.leaveErr
}

func (t *fakeTransport) Ping() float64 { return 12.5 }

func (t *fakeTransport) played() []domain.PlayableReference {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.PlayableReference(nil), t.plays...)
}

// fakeResolver hands out a remote reference per id unless fail says no.
// Like the real resolver it reuses a reference already on the item.
type fakeResolver struct {
	mu       sync.Mutex
	acquired []string
	fail     map[string]bool
	block    chan struct{}
}

func (r *fakeResolver) Resolve(ctx context.Context, item *domain.MediaItem, video bool) (domain.PlayableReference, error) {
	if item.Ref != nil {
		return item.Ref.WithOffset(item.SeekOffset), nil
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return domain.PlayableReference{}, ctx.Err()
		}
	}
	r.mu.Lock()
	r.acquired = append(r.acquired, item.ID)
	failed := r.fail[item.ID]
	r.mu.Unlock()
	if failed {
		return domain.PlayableReference{}, fmt.Errorf("%w: %s", ErrAcquisitionFailed, item.ID)
	}
	ref := domain.RemoteURL("https://media.example/"+item.ID, domain.KindOf(video))
	return ref.WithOffset(item.SeekOffset), nil
}

func (r *fakeResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.acquired)
}

type fakeObserver struct {
	mu      sync.Mutex
	notices []Notice
	next    int
}

func (o *fakeObserver) Notify(_ context.Context, n Notice) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
	if n.Kind == NoticeNowPlaying {
		o.next++
		return fmt.Sprintf("h-%d", o.next)
	}
	return ""
}

func (o *fakeObserver) kinds() []NoticeKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]NoticeKind, 0, len(o.notices))
	for _, n := range o.notices {
		out = append(out, n.Kind)
	}
	return out
}

func (o *fakeObserver) find(kind NoticeKind) (Notice, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, n := range o.notices {
		if n.Kind == kind {
			return n, true
		}
	}
	return Notice{}, false
}

type fakeStore struct {
	mu     sync.Mutex
	active map[domain.RoomID]bool
	paused map[domain.RoomID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{active: map[domain.RoomID]bool{}, paused: map[domain.RoomID]bool{}}
}

func (s *fakeStore) Assistant(context.Context, domain.RoomID) (int, bool, error) {
	return 0, false, nil
}
func (s *fakeStore) SetAssistant(context.Context, domain.RoomID, int) error { return nil }
func (s *fakeStore) Close() error                                           { return nil }

func (s *fakeStore) MarkPlaying(_ context.Context, room domain.RoomID, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[room] = paused
	return nil
}

func (s *fakeStore) RecordActiveCall(_ context.Context, room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[room] = true
	return nil
}

func (s *fakeStore) ForgetCall(ctx context.Context, room domain.RoomID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, room)
	delete(s.paused, room)
	return nil
}

func (s *fakeStore) ActiveCalls(context.Context) ([]domain.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RoomID, 0, len(s.active))
	for r := range s.active {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) isActive(room domain.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[room]
}

func (s *fakeStore) isPaused(room domain.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[room]
}

type tablePolicy struct{}

func (tablePolicy) OnTransportFailure(_ domain.RoomID, err error) RecoveryAction {
	switch {
	case errors.Is(err, ErrSourceNotFound), errors.Is(err, ErrNoAudioSource):
		return RecoverAdvance
	case errors.Is(err, ErrNoActiveCall), errors.Is(err, ErrConnection), errors.Is(err, ErrStreamingUnsupported):
		return RecoverStop
	}
	return Propagate
}
