package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/domain"
)

const (
	StateIdle     = "idle"
	StateStarting = "starting"
	StatePlaying  = "playing"
	StatePaused   = "paused"
)

const (
	evAcquire = "acquire"
	evStream  = "stream"
	evPause   = "pause"
	evResume  = "resume"
	evFail    = "fail"
	evStop    = "stop"
)

const leaveTimeout = 5 * time.Second

type SessionDeps struct {
	Transport Transport
	Resolver  Resolver
	Store     StateStore
	Observer  Observer
	Policy    Policy
	Recorder  Recorder
}

// CallSession owns playback in one room. Every state mutation runs under
// mu; the fsm only records where the session is.
type CallSession struct {
	room  domain.RoomID
	deps  SessionDeps
	queue *RoomQueue
	fsm   *fsm.FSM

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	onClose func(*CallSession)
}

// NewCallSession builds an idle session. onClose runs once, under the
// session lock, when the session stops for good.
func NewCallSession(room domain.RoomID, deps SessionDeps, onClose func(*CallSession)) *CallSession {
	if deps.Observer == nil {
		deps.Observer = LogObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &CallSession{
		room:    room,
		deps:    deps,
		queue:   NewRoomQueue(),
		ctx:     ctx,
		cancel:  cancel,
		onClose: onClose,
	}
	s.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evAcquire, Src: []string{StateIdle, StatePlaying, StatePaused}, Dst: StateStarting},
			{Name: evStream, Src: []string{StateStarting}, Dst: StatePlaying},
			{Name: evPause, Src: []string{StatePlaying, StatePaused}, Dst: StatePaused},
			{Name: evResume, Src: []string{StatePaused, StatePlaying}, Dst: StatePlaying},
			{Name: evFail, Src: []string{StateStarting}, Dst: StateIdle},
			{Name: evStop, Src: []string{StateIdle, StateStarting, StatePlaying, StatePaused}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug().Str("module", "core.session").Str("room", string(room)).
					Str("from", e.Src).Str("to", e.Dst).Str("event", e.Event).Msg("state changed")
				if deps.Recorder != nil {
					deps.Recorder.SessionTransition(e.Src, e.Dst)
				}
			},
		},
	)
	return s
}

func (s *CallSession) Room() domain.RoomID       { return s.room }
func (s *CallSession) State() string             { return s.fsm.Current() }
func (s *CallSession) Closed() bool              { return s.closed.Load() }
func (s *CallSession) Transport() Transport      { return s.deps.Transport }
func (s *CallSession) Queue() []domain.MediaItem { return s.queue.Items() }
func (s *CallSession) Paused() bool              { return s.fsm.Is(StatePaused) }

// Request queues item and starts playback when the session is idle.
// It returns the item's queue position.
func (s *CallSession) Request(ctx context.Context, item *domain.MediaItem) (int, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	queued := *item
	pos := s.queue.Enqueue(item)
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	if !s.fsm.Is(StateIdle) {
		s.notify(ctx, NoticeQueued, &queued, pos, nil)
		return pos, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	if !s.fsm.Is(StateIdle) {
		s.notify(ctx, NoticeQueued, &queued, pos, nil)
		return pos, nil
	}
	return pos, s.playLocked(ctx)
}

// Play starts the head of the queue.
func (s *CallSession) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.playLocked(ctx)
}

func (s *CallSession) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.activeLocked(); err != nil {
		return err
	}
	if err := s.deps.Transport.Pause(ctx, s.room); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	if err := s.fire(ctx, evPause); err != nil {
		return err
	}
	if err := s.deps.Store.MarkPlaying(ctx, s.room, true); err != nil {
		log.Warn().Err(err).Str("module", "core.session").Str("room", string(s.room)).Msg("mark paused")
	}
	s.notify(ctx, NoticePaused, nil, 0, nil)
	return nil
}

func (s *CallSession) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.activeLocked(); err != nil {
		return err
	}
	if err := s.deps.Transport.Resume(ctx, s.room); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if err := s.fire(ctx, evResume); err != nil {
		return err
	}
	if err := s.deps.Store.MarkPlaying(ctx, s.room, false); err != nil {
		log.Warn().Err(err).Str("module", "core.session").Str("room", string(s.room)).Msg("mark resumed")
	}
	s.notify(ctx, NoticeResumed, nil, 0, nil)
	return nil
}

// Stop tears the session down. An acquisition in flight is abandoned
// before the lock is taken so Stop never waits on a slow download.
func (s *CallSession) Stop(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
	return nil
}

// Skip drops the current item and plays the next one, stopping when
// nothing is left.
func (s *CallSession) Skip(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.queue.Len() == 0 {
		return ErrQueueEmpty
	}
	if next := s.advanceLocked(ctx); next == nil {
		s.stopLocked(ctx)
		return nil
	}
	return s.playLocked(ctx)
}

// Replay restarts the current item from the beginning.
func (s *CallSession) Replay(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.queue.Current() == nil {
		return ErrQueueEmpty
	}
	s.retireLocked(ctx)
	s.queue.Update(func(head *domain.MediaItem) { head.SeekOffset = 0 })
	return s.playLocked(ctx)
}

// Seek restarts the current item at the given second without
// acquiring it again.
func (s *CallSession) Seek(ctx context.Context, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.activeLocked(); err != nil {
		return err
	}
	item := s.queue.Current()
	if item == nil {
		return ErrQueueEmpty
	}
	if seconds < 0 || (item.Duration > 0 && seconds >= item.Duration) {
		return ErrSeekOutOfRange
	}
	s.queue.Update(func(head *domain.MediaItem) { head.SeekOffset = seconds })

	ctx, release := s.bind(ctx)
	defer release()
	if err := s.fire(ctx, evAcquire); err != nil {
		return err
	}
	err := s.startLocked(ctx, item, true)
	if err == nil {
		return nil
	}
	if s.ctx.Err() != nil {
		return ErrStopped
	}
	if s.recoverLocked(ctx, item, err) {
		if perr := s.playLocked(ctx); perr != nil {
			log.Warn().Err(perr).Str("module", "core.session").Str("room", string(s.room)).Msg("play after failed seek")
		}
	}
	return err
}

// OnStreamEnded advances the queue. Only the end of the audio stream
// counts; a video track may end before the audio does.
func (s *CallSession) OnStreamEnded(ctx context.Context, kind domain.Kind) error {
	if kind != domain.KindAudio {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil
	}
	if !s.fsm.Is(StatePlaying) && !s.fsm.Is(StatePaused) {
		return nil
	}
	if next := s.advanceLocked(ctx); next == nil {
		s.stopLocked(ctx)
		return nil
	}
	return s.playLocked(ctx)
}

func (s *CallSession) OnRoomClosed(ctx context.Context, status domain.RoomStatus) error {
	if !status.Terminal() {
		return nil
	}
	log.Info().Str("module", "core.session").Str("room", string(s.room)).Str("status", string(status)).Msg("room closed")
	return s.Stop(ctx)
}

// playLocked plays the head of the queue, moving past items that cannot
// be played. It gives up after one pass over the queue.
func (s *CallSession) playLocked(ctx context.Context) error {
	ctx, release := s.bind(ctx)
	defer release()

	var (
		lastErr error
		tried   *domain.MediaItem
	)
	for {
		// Items queued while the head was starting are picked up here. Every
		// failed pass advances, so an item is never tried twice.
		item := s.queue.Current()
		if item == nil || item == tried {
			break
		}
		tried = item
		if err := s.fire(ctx, evAcquire); err != nil {
			return err
		}
		err := s.startLocked(ctx, item, false)
		if err == nil {
			return nil
		}
		if s.ctx.Err() != nil {
			return ErrStopped
		}
		if !s.recoverLocked(ctx, item, err) {
			return err
		}
		lastErr = err
	}

	if s.closed.Load() {
		return ErrStopped
	}
	s.notify(ctx, NoticeNoPlayable, nil, 0, lastErr)
	s.stopLocked(ctx)
	if lastErr != nil {
		return lastErr
	}
	return ErrQueueEmpty
}

func (s *CallSession) startLocked(ctx context.Context, item *domain.MediaItem, seek bool) error {
	ref, err := s.deps.Resolver.Resolve(ctx, item, item.Video())
	if err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		// stopped while acquiring; the result belongs to nobody now
		return ErrStopped
	}
	base := ref.WithOffset(0)
	s.queue.Update(func(head *domain.MediaItem) {
		if head == item {
			head.Ref = &base
		}
	})

	if err := s.deps.Transport.Play(ctx, s.room, ref, PlayOptions{Video: item.Video()}); err != nil {
		return err
	}
	if err := s.fire(ctx, evStream); err != nil {
		return err
	}

	if err := s.deps.Store.MarkPlaying(ctx, s.room, false); err != nil {
		log.Warn().Err(err).Str("module", "core.session").Str("room", string(s.room)).Msg("mark playing")
	}
	if seek {
		s.notify(ctx, NoticeSeeked, item, 0, nil)
		return nil
	}
	if err := s.deps.Store.RecordActiveCall(ctx, s.room); err != nil {
		log.Warn().Err(err).Str("module", "core.session").Str("room", string(s.room)).Msg("record active call")
	}
	handle := s.notify(ctx, NoticeNowPlaying, item, 0, nil)
	s.queue.Update(func(head *domain.MediaItem) {
		if head == item {
			head.Handle = handle
		}
	})
	log.Info().Str("module", "core.session").Str("room", string(s.room)).Str("media_id", item.ID).
		Str("ref", ref.Kind.String()).Msg("now playing")
	return nil
}

// recoverLocked applies the failure policy to a failed start. It reports
// whether playback should go on with the next item.
func (s *CallSession) recoverLocked(ctx context.Context, item *domain.MediaItem, err error) bool {
	l := log.Warn().Err(err).Str("module", "core.session").Str("room", string(s.room)).Str("media_id", item.ID)

	if errors.Is(err, ErrAcquisitionFailed) {
		l.Msg("acquisition failed, skipping")
		s.notify(ctx, NoticeSkipped, item, 0, err)
		_ = s.fire(ctx, evFail)
		s.advanceLocked(ctx)
		return true
	}

	action := Propagate
	if ctx.Err() == nil {
		action = s.deps.Policy.OnTransportFailure(s.room, err)
		if s.deps.Recorder != nil {
			s.deps.Recorder.TransportFailure(action.String())
		}
	}
	l.Str("action", action.String()).Msg("play failed")

	switch action {
	case RecoverAdvance:
		s.notify(ctx, NoticeFailed, item, 0, err)
		_ = s.fire(ctx, evFail)
		s.advanceLocked(ctx)
		return true
	case RecoverStop:
		s.stopLocked(ctx)
		s.notify(ctx, NoticeFailed, item, 0, err)
		return false
	default:
		_ = s.fire(ctx, evFail)
		return false
	}
}

// advanceLocked retires the finished head and returns the next item.
func (s *CallSession) advanceLocked(ctx context.Context) *domain.MediaItem {
	s.retireLocked(ctx)
	return s.queue.Advance()
}

func (s *CallSession) retireLocked(ctx context.Context) {
	head := s.queue.Current()
	if head == nil || head.Handle == "" {
		return
	}
	s.deps.Observer.Notify(ctx, Notice{Kind: NoticeRetired, Room: s.room, Handle: head.Handle})
	s.queue.Update(func(h *domain.MediaItem) { h.Handle = "" })
}

func (s *CallSession) stopLocked(ctx context.Context) {
	if s.closed.Swap(true) {
		return
	}
	s.cancel()
	ctx = context.WithoutCancel(ctx)

	s.retireLocked(ctx)
	s.queue.Clear()
	_ = s.fire(ctx, evStop)

	if err := s.deps.Store.ForgetCall(ctx, s.room); err != nil {
		log.Warn().Err(err).Str("module", "core.session").Str("room", string(s.room)).Msg("forget call")
	}
	lctx, cancel := context.WithTimeout(ctx, leaveTimeout)
	defer cancel()
	if err := s.deps.Transport.Leave(lctx, s.room); err != nil {
		log.Debug().Err(err).Str("module", "core.session").Str("room", string(s.room)).Msg("leave failed, ignored")
	}

	s.notify(ctx, NoticeStopped, nil, 0, nil)
	log.Info().Str("module", "core.session").Str("room", string(s.room)).Msg("session stopped")
	if s.onClose != nil {
		s.onClose(s)
	}
}

func (s *CallSession) activeLocked() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.fsm.Is(StatePlaying) && !s.fsm.Is(StatePaused) {
		return fmt.Errorf("%w: %s", ErrInvalidState, s.fsm.Current())
	}
	return nil
}

// bind detaches an operation from its caller and ties it to the session
// lifetime: only Stop abandons a start, a caller going away does not.
func (s *CallSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// fire runs an fsm event. The fsm drops transitions on a cancelled
// context, so events always run detached from cancellation.
func (s *CallSession) fire(ctx context.Context, event string) error {
	err := s.fsm.Event(context.WithoutCancel(ctx), event)
	if err == nil {
		return nil
	}
	var noop fsm.NoTransitionError
	if errors.As(err, &noop) {
		return nil
	}
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidState, invalid.Event, invalid.State)
	}
	return err
}

func (s *CallSession) notify(ctx context.Context, kind NoticeKind, item *domain.MediaItem, pos int, err error) string {
	n := Notice{Kind: kind, Room: s.room, Position: pos, Err: err}
	if item != nil {
		cp := *item
		n.Item = &cp
	}
	return s.deps.Observer.Notify(ctx, n)
}
