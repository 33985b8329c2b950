// Package stream follows a single analysis task over the server's websocket feed.
//
// A Stream owns one goroutine that holds the socket, the heartbeat ticker and
// the reconnect timer. Everything else talks to it through channels, so those
// three resources are always released together.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/processlens/backend/pkg/api"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("stream: closed")

type cmdKind int

const (
	cmdSetTask cmdKind = iota
	cmdRequestStatus
	cmdClose
)

type command struct {
	kind   cmdKind
	taskID string
	ack    chan struct{}
}

type eventKind int

const (
	eventDialed eventKind = iota
	eventFrame
	eventClosed
)

type event struct {
	gen  uint64
	kind eventKind
	conn Conn
	data []byte
	err  error
}

type Stream struct {
	cfg    Config
	dialer Dialer
	clock  clock
	log    *zap.Logger

	cmds    chan command
	events  chan event
	done    chan struct{}
	updates chan Snapshot

	closeOnce sync.Once

	mu   sync.RWMutex
	snap Snapshot
}

// New starts an idle stream. Nothing is dialed until SetTask is called with a
// non-empty id.
func New(cfg Config, dialer Dialer) *Stream {
	return newStream(cfg, dialer, realClock{})
}

func newStream(cfg Config, dialer Dialer, clk clock) *Stream {
	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	s := &Stream{
		cfg:     cfg,
		dialer:  dialer,
		clock:   clk,
		log:     cfg.Logger.Named("stream"),
		cmds:    make(chan command),
		events:  make(chan event),
		done:    make(chan struct{}),
		updates: make(chan Snapshot, 16),
		snap:    Snapshot{Conn: StateDisconnected},
	}
	r := &runner{s: s, state: StateDisconnected}
	go r.run()
	return s
}

// SetTask switches the stream to taskID. The previous connection and both
// timers are torn down first. An empty id only tears down.
func (s *Stream) SetTask(taskID string) error {
	return s.send(command{kind: cmdSetTask, taskID: taskID})
}

// RequestStatus asks the server for a fresh status_update on the live connection.
func (s *Stream) RequestStatus() error {
	return s.send(command{kind: cmdRequestStatus})
}

// Close releases the connection and timers and waits for the owner goroutine to exit.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		ack := make(chan struct{})
		select {
		case s.cmds <- command{kind: cmdClose, ack: ack}:
			<-ack
		case <-s.done:
		}
		<-s.done
	})
}

func (s *Stream) Done() <-chan struct{} { return s.done }

// Snapshot returns a copy of the current state.
func (s *Stream) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Updates delivers snapshots as they change. Slow readers only see the latest ones.
func (s *Stream) Updates() <-chan Snapshot { return s.updates }

func (s *Stream) send(cmd command) error {
	cmd.ack = make(chan struct{})
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-cmd.ack:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Stream) emit(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
		if ev.conn != nil {
			ev.conn.Close()
		}
	}
}

func (s *Stream) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	out := s.snap.clone()
	s.mu.Unlock()

	select {
	case s.updates <- out:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- out:
		default:
		}
	}
}

// runner is the state owned by the stream goroutine.
type runner struct {
	s *Stream

	taskID     string
	gen        uint64
	state      ConnState
	conn       Conn
	cancelDial context.CancelFunc
	heartbeat  ticker
	reconnect  timer
	lastPong   time.Time
	attempts   int
	terminal   bool
	// proven is set once the current connection delivers a frame
	proven bool
}

func (r *runner) run() {
	defer close(r.s.done)
	for {
		select {
		case cmd := <-r.s.cmds:
			switch cmd.kind {
			case cmdSetTask:
				r.switchTask(cmd.taskID)
			case cmdRequestStatus:
				r.write(api.Frame{Type: api.FrameStatusRequest})
			case cmdClose:
				r.teardown()
				r.s.log.Debug("stream_closed", zap.String("task_id", r.taskID))
				close(cmd.ack)
				return
			}
			close(cmd.ack)
		case ev := <-r.s.events:
			r.handleEvent(ev)
		case <-tickC(r.heartbeat):
			r.beat()
		case <-timerC(r.reconnect):
			r.reconnect = nil
			r.dial()
		}
	}
}

func (r *runner) transition(ev connEvent) bool {
	to, ok := nextState(r.state, ev)
	if !ok {
		r.s.log.Warn("stream_illegal_transition",
			zap.String("task_id", r.taskID),
			zap.String("from", string(r.state)),
			zap.String("event", string(ev)),
		)
		return false
	}
	r.state = to
	return true
}

// teardown closes the socket, cancels any dial and stops both timers.
func (r *runner) teardown() {
	r.dropConn()
	if r.reconnect != nil {
		r.reconnect.Stop()
		r.reconnect = nil
	}
	r.transition(evReset)
}

// dropConn releases the current connection. Bumping the generation makes any
// late events from its reader or dialer stale.
func (r *runner) dropConn() {
	r.gen++
	if r.cancelDial != nil {
		r.cancelDial()
		r.cancelDial = nil
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
		r.heartbeat = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *runner) switchTask(taskID string) {
	r.teardown()
	r.taskID = taskID
	r.attempts = 0
	r.terminal = false
	r.s.update(func(s *Snapshot) {
		*s = Snapshot{TaskID: taskID, Conn: r.state}
		if taskID != "" {
			s.Status = api.TaskStatusProcessing
		}
	})
	if taskID == "" {
		return
	}
	r.dial()
}

func (r *runner) dial() {
	if r.taskID == "" || r.terminal {
		return
	}
	url, err := BuildURL(r.s.cfg.BaseURL, r.taskID, r.s.cfg.Model)
	if err != nil {
		r.transition(evGiveUp)
		r.s.update(func(s *Snapshot) {
			s.Conn = r.state
			s.Error = err.Error()
		})
		return
	}
	if !r.transition(evDial) {
		return
	}
	r.gen++
	gen := r.gen
	ctx, cancel := context.WithTimeout(context.Background(), r.s.cfg.DialTimeout)
	r.cancelDial = cancel

	r.s.log.Info("stream_connecting",
		zap.String("task_id", r.taskID),
		zap.String("url", url),
		zap.Int("attempt", r.attempts),
	)
	r.s.update(func(s *Snapshot) { s.Conn = r.state })

	go func() {
		conn, err := r.s.dialer.Dial(ctx, url)
		r.s.emit(event{gen: gen, kind: eventDialed, conn: conn, err: err})
	}()
}

func (r *runner) handleEvent(ev event) {
	if ev.gen != r.gen {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return
	}
	switch ev.kind {
	case eventDialed:
		if r.cancelDial != nil {
			r.cancelDial()
			r.cancelDial = nil
		}
		if ev.err != nil {
			r.lost(ev.err)
			return
		}
		r.opened(ev.conn)
	case eventFrame:
		r.handleFrame(ev.data)
	case eventClosed:
		r.lost(ev.err)
	}
}

func (r *runner) opened(conn Conn) {
	if !r.transition(evOpened) {
		conn.Close()
		return
	}
	r.conn = conn
	r.proven = false
	r.lastPong = r.s.clock.Now()
	r.heartbeat = r.s.clock.NewTicker(r.s.cfg.HeartbeatInterval)

	r.s.log.Info("stream_connected", zap.String("task_id", r.taskID))
	r.s.update(func(s *Snapshot) {
		s.Conn = r.state
		s.Error = ""
	})

	gen := r.gen
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				r.s.emit(event{gen: gen, kind: eventClosed, err: err})
				return
			}
			r.s.emit(event{gen: gen, kind: eventFrame, data: data})
		}
	}()
}

// lost handles a dropped or failed connection and decides whether to retry.
func (r *runner) lost(cause error) {
	r.dropConn()
	if r.terminal {
		r.transition(evReset)
		r.s.update(func(s *Snapshot) { s.Conn = r.state })
		return
	}
	reason := "connection closed"
	if cause != nil {
		reason = cause.Error()
	}

	if r.attempts >= r.s.cfg.MaxRetries {
		r.transition(evGiveUp)
		msg := fmt.Sprintf("connection lost after %d reconnect attempts: %s", r.attempts, reason)
		r.s.log.Error("stream_giveup",
			zap.String("task_id", r.taskID),
			zap.Int("attempts", r.attempts),
			zap.String("reason", reason),
		)
		r.s.update(func(s *Snapshot) {
			s.Conn = r.state
			s.Error = msg
			s.Attempt = r.attempts
		})
		return
	}

	r.attempts++
	delay := ReconnectDelay(r.s.cfg.RetrySchedule, r.attempts)
	r.transition(evLost)

	r.s.log.Warn("stream_reconnect_scheduled",
		zap.String("task_id", r.taskID),
		zap.Int("attempt", r.attempts),
		zap.Int("max_retries", r.s.cfg.MaxRetries),
		zap.Duration("delay", delay),
		zap.String("reason", reason),
	)
	msg := fmt.Sprintf("connection lost (%s); reconnecting in %s (attempt %d/%d)",
		reason, delay, r.attempts, r.s.cfg.MaxRetries)
	r.s.update(func(s *Snapshot) {
		s.Conn = r.state
		s.Error = msg
		s.Attempt = r.attempts
	})
	r.reconnect = r.s.clock.NewTimer(delay)
}

func (r *runner) beat() {
	if r.conn == nil {
		return
	}
	silent := r.s.clock.Now().Sub(r.lastPong)
	if silent >= 2*r.s.cfg.HeartbeatInterval {
		r.s.log.Warn("stream_heartbeat_missed",
			zap.String("task_id", r.taskID),
			zap.Duration("silent_for", silent),
		)
		r.lost(errors.New("heartbeat timeout"))
		return
	}
	r.write(api.Frame{Type: api.FramePing})
}

func (r *runner) write(f api.Frame) {
	if r.conn == nil {
		return
	}
	r.conn.SetWriteDeadline(r.s.clock.Now().Add(r.s.cfg.WriteTimeout))
	if err := r.conn.WriteJSON(f); err != nil {
		r.s.log.Warn("stream_write_failed",
			zap.String("task_id", r.taskID),
			zap.String("type", string(f.Type)),
			zap.Error(err),
		)
		r.lost(err)
	}
}

// finish records a terminal task state. No reconnects follow.
func (r *runner) finish() {
	r.terminal = true
	if r.reconnect != nil {
		r.reconnect.Stop()
		r.reconnect = nil
	}
	r.dropConn()
	r.transition(evTerminal)
	r.s.update(func(s *Snapshot) {
		s.Conn = r.state
		s.Attempt = 0
	})
}

func (r *runner) handleFrame(data []byte) {
	var f api.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		r.s.log.Warn("stream_frame_malformed", zap.String("task_id", r.taskID), zap.Error(err))
		return
	}

	// attempts reset on the first frame of a connection, not on the open itself
	if !r.proven {
		r.proven = true
		if r.attempts > 0 {
			r.attempts = 0
			r.s.update(func(s *Snapshot) { s.Attempt = 0 })
		}
	}

	switch f.Type {
	case api.FramePong:
		r.lastPong = r.s.clock.Now()

	case api.FrameThoughtUpdate:
		var t api.Thought
		if err := json.Unmarshal(f.Data, &t); err != nil || (t.Thought == "" && t.Stage == "") {
			r.s.log.Warn("stream_frame_dropped", zap.String("task_id", r.taskID), zap.String("type", string(f.Type)))
			return
		}
		if r.seen(t) {
			r.s.log.Debug("stream_thought_duplicate", zap.String("task_id", r.taskID), zap.String("stage", t.Stage))
			return
		}
		r.s.update(func(s *Snapshot) {
			s.Thoughts = append(s.Thoughts, t)
			if t.Progress > s.Progress {
				s.Progress = t.Progress
			}
		})

	case api.FrameInitialState, api.FrameStatusUpdate:
		var snap api.TaskSnapshot
		if err := json.Unmarshal(f.Data, &snap); err != nil {
			r.s.log.Warn("stream_frame_dropped", zap.String("task_id", r.taskID), zap.String("type", string(f.Type)), zap.Error(err))
			return
		}
		r.applySnapshot(snap)

	case api.FrameAnalysisComplete:
		results, ok := decodeResults(f.Data)
		if !ok {
			r.s.log.Warn("stream_frame_dropped", zap.String("task_id", r.taskID), zap.String("type", string(f.Type)), zap.String("reason", "no results"))
			return
		}
		r.s.log.Info("stream_analysis_complete", zap.String("task_id", r.taskID))
		r.s.update(func(s *Snapshot) {
			s.Status = api.TaskStatusCompleted
			s.Progress = 100
			s.Results = results
			s.Error = ""
		})
		r.finish()

	case api.FrameAnalysisError:
		var body api.ErrorBody
		_ = json.Unmarshal(f.Data, &body)
		msg := body.Message()
		if msg == "" {
			msg = "analysis failed"
		}
		r.s.log.Warn("stream_analysis_error", zap.String("task_id", r.taskID), zap.String("error", msg))
		r.s.update(func(s *Snapshot) {
			s.Status = api.TaskStatusFailed
			s.Error = msg
		})
		r.finish()

	default:
		r.s.log.Debug("stream_frame_unknown", zap.String("task_id", r.taskID), zap.String("type", string(f.Type)))
	}
}

func (r *runner) applySnapshot(snap api.TaskSnapshot) {
	if snap.TaskID != "" && snap.TaskID != r.taskID {
		r.s.log.Warn("stream_snapshot_task_mismatch", zap.String("task_id", r.taskID), zap.String("got", snap.TaskID))
		return
	}
	r.s.update(func(s *Snapshot) {
		if snap.Status != "" {
			s.Status = snap.Status
		}
		if snap.Progress > s.Progress {
			s.Progress = snap.Progress
		}
		if len(snap.Thoughts) >= len(s.Thoughts) {
			s.Thoughts = append([]api.Thought(nil), snap.Thoughts...)
		}
		if snap.Results != nil {
			s.Results = snap.Results
		}
		if snap.Error != "" {
			s.Error = snap.Error
		}
	})
	if snap.Status.Terminal() {
		r.finish()
	}
}

// seen reports whether t was already recorded, e.g. through the snapshot that
// opened the connection.
func (r *runner) seen(t api.Thought) bool {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, have := range r.s.snap.Thoughts {
		if have.Timestamp.Equal(t.Timestamp) && have.Stage == t.Stage && have.Thought == t.Thought {
			return true
		}
	}
	return false
}

var resultKeys = []string{"performance", "patterns", "improvements", "summary"}

// decodeResults accepts either a task snapshot carrying results or a bare
// results object. Anything without results is rejected.
func decodeResults(data json.RawMessage) (*api.Results, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, false
	}
	if raw, ok := fields["results"]; ok {
		var res *api.Results
		if err := json.Unmarshal(raw, &res); err != nil || res == nil {
			return nil, false
		}
		return res, true
	}
	bare := false
	for _, k := range resultKeys {
		if _, ok := fields[k]; ok {
			bare = true
			break
		}
	}
	if !bare {
		return nil, false
	}
	var res api.Results
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}
	return &res, true
}
