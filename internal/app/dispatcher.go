package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

type mailbox struct {
	events []core.Event
}

// Dispatcher delivers engine events to subscribed handlers. Events of one
// room are handled in order by a single goroutine that lives while the
// room has pending events; rooms do not wait on each other.
type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[core.EventKind][]core.EventHandler
	rooms    map[domain.RoomID]*mailbox
	closed   bool
	wg       sync.WaitGroup
}

func NewDispatcher() *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[core.EventKind][]core.EventHandler),
		rooms:    make(map[domain.RoomID]*mailbox),
	}
}

func (d *Dispatcher) Subscribe(kind core.EventKind, h core.EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Dispatch never blocks on handlers.
func (d *Dispatcher) Dispatch(_ context.Context, ev core.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		log.Debug().Str("module", "app.dispatcher").Str("room", string(ev.Room)).Msg("event after close dropped")
		return
	}
	mb, ok := d.rooms[ev.Room]
	if !ok {
		mb = &mailbox{}
		d.rooms[ev.Room] = mb
		d.wg.Add(1)
		go d.run(ev.Room, mb)
	}
	mb.events = append(mb.events, ev)
}

func (d *Dispatcher) run(room domain.RoomID, mb *mailbox) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(mb.events) == 0 {
			delete(d.rooms, room)
			d.mu.Unlock()
			return
		}
		ev := mb.events[0]
		mb.events = mb.events[1:]
		handlers := d.handlers[ev.Kind]
		d.mu.Unlock()

		for _, h := range handlers {
			d.call(h, ev)
		}
	}
}

func (d *Dispatcher) call(h core.EventHandler, ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.dispatcher").Str("room", string(ev.Room)).
				Str("kind", string(ev.Kind)).Interface("panic", r).Msg("handler panic")
		}
	}()
	h(d.ctx, ev)
}

// Close stops accepting events and waits for queued ones to be handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	d.cancel()
}
