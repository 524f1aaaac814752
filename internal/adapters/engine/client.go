package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

type Options struct {
	PingPeriod  time.Duration
	CallTimeout time.Duration
	ReadLimit   int64
}

// Client is one assistant account on the call engine. It keeps a single
// WebSocket open, correlates replies by id and forwards events to sink.
type Client struct {
	url    string
	sink   core.EventSink
	opts   Options
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	send    chan []byte
	pending map[string]chan inbound

	latency atomic.Uint64
}

var _ core.Transport = (*Client)(nil)

func NewClient(url string, sink core.EventSink, opts Options) *Client {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 10 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	c := &Client{
		url:     url,
		sink:    sink,
		opts:    opts,
		dialer:  websocket.DefaultDialer,
		pending: make(map[string]chan inbound),
	}
	return c
}

// Run keeps the connection up until ctx is done, redialing with a capped
// backoff.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("module", "engine").Str("url", c.url).Dur("retry", backoff).Msg("engine connection lost")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// Connect dials once and serves the connection in the background.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	send := c.attach(conn)
	go func() { _ = c.pumps(ctx, conn, send) }()
	return nil
}

func (c *Client) serve(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	return c.pumps(ctx, conn, c.attach(conn))
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", core.ErrConnection, c.url, err)
	}
	if c.opts.ReadLimit > 0 {
		conn.SetReadLimit(c.opts.ReadLimit)
	}
	log.Info().Str("module", "engine").Str("url", c.url).Msg("engine connected")
	return conn, nil
}

func (c *Client) attach(conn *websocket.Conn) chan []byte {
	send := make(chan []byte, 32)
	c.mu.Lock()
	c.conn, c.send = conn, send
	c.mu.Unlock()
	return send
}

func (c *Client) pumps(ctx context.Context, conn *websocket.Conn, send chan []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writePump(ctx, conn, send)
	go c.pinger(ctx)

	err := c.readPump(ctx, conn)
	c.drop(conn)
	return err
}

// drop forgets conn and fails every call still waiting on it.
func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn, c.send = nil, nil
	}
	pending := c.pending
	c.pending = make(map[string]chan inbound)
	c.mu.Unlock()
	_ = conn.Close()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "engine").Msg("writePump set deadline")
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "engine").Msg("writePump write error")
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		in, err := decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "engine").Msg("bad frame")
			continue
		}
		c.handle(ctx, in)
	}
}

func (c *Client) handle(ctx context.Context, in inbound) {
	switch core.EventKind(in.Type) {
	case core.EventStreamEnded:
		c.emit(ctx, core.Event{Kind: core.EventStreamEnded, Room: in.Room, Stream: in.Stream})
		return
	case core.EventRoomStatus:
		c.emit(ctx, core.Event{Kind: core.EventRoomStatus, Room: in.Room, Status: in.Status})
		return
	}
	if in.Type != typeReply {
		log.Debug().Str("module", "engine").Str("type", in.Type).Msg("unknown frame")
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[in.ID]
	delete(c.pending, in.ID)
	c.mu.Unlock()
	if ok {
		ch <- in
	}
}

func (c *Client) emit(ctx context.Context, ev core.Event) {
	if c.sink == nil || ev.Room == "" {
		return
	}
	c.sink.Dispatch(ctx, ev)
}

func (c *Client) pinger(ctx context.Context) {
	t := time.NewTicker(c.opts.PingPeriod)
	defer t.Stop()
	c.measure(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.measure(ctx)
		}
	}
}

func (c *Client) measure(ctx context.Context) {
	start := time.Now()
	if err := c.call(ctx, request{Op: opPing}); err != nil {
		log.Debug().Err(err).Str("module", "engine").Msg("ping failed")
		return
	}
	ms := float64(time.Since(start).Microseconds()) / 1000
	c.latency.Store(math.Float64bits(ms))
}

// call sends req and waits for its reply.
func (c *Client) call(ctx context.Context, req request) error {
	req.ID = uuid.NewString()
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	ch := make(chan inbound, 1)

	c.mu.Lock()
	send := c.send
	if send == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: not connected", core.ErrConnection)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	select {
	case send <- data:
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
	select {
	case in, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: connection closed", core.ErrConnection)
		}
		return in.Error.err()
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

func (c *Client) Play(ctx context.Context, room domain.RoomID, ref domain.PlayableReference, opts core.PlayOptions) error {
	return c.call(ctx, request{Op: opPlay, Room: room, Stream: &ref, Video: opts.Video, Headers: ref.Headers()})
}

func (c *Client) Pause(ctx context.Context, room domain.RoomID) error {
	return c.call(ctx, request{Op: opPause, Room: room})
}

func (c *Client) Resume(ctx context.Context, room domain.RoomID) error {
	return c.call(ctx, request{Op: opResume, Room: room})
}

func (c *Client) Leave(ctx context.Context, room domain.RoomID) error {
	return c.call(ctx, request{Op: opLeave, Room: room})
}

// Ping is the last measured round trip in milliseconds, 0 until measured.
func (c *Client) Ping() float64 {
	return math.Float64frombits(c.latency.Load())
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
