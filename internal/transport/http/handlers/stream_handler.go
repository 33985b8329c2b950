package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/core/services"
	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/pkg/api"
)

// Subscriber hands out per-task frame feeds.
type Subscriber interface {
	Subscribe(taskID string) (<-chan api.Frame, func())
}

type StreamHandler struct {
	service      ports.AnalysisService
	hub          Subscriber
	logger       *logger.Logger
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// NewStreamHandler builds the handler. A positive idleTimeout drops clients that
// send nothing, pings included, for that long.
func NewStreamHandler(service ports.AnalysisService, hub Subscriber, logger *logger.Logger, idleTimeout time.Duration) *StreamHandler {
	return &StreamHandler{
		service:      service,
		hub:          hub,
		logger:       logger,
		writeTimeout: 10 * time.Second,
		idleTimeout:  idleTimeout,
	}
}

// Handle serves /ws/:id. The connection goroutine owns every write; a reader
// goroutine turns client frames into replies.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	taskID := c.Params("id")
	model := c.Query("model")
	h.logger.Infow("stream_connected", "task_id", taskID, "model", model)
	defer h.logger.Infow("stream_disconnected", "task_id", taskID)

	// subscribe before reading the snapshot so no frame falls in between
	frames, unsubscribe := h.hub.Subscribe(taskID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !h.sendSnapshot(ctx, c, taskID, api.FrameInitialState) {
		return
	}

	requests := make(chan api.FrameType, 8)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if h.idleTimeout > 0 {
				_ = c.SetReadDeadline(time.Now().Add(h.idleTimeout))
			}
			_, msg, err := c.ReadMessage()
			if err != nil {
				var ne net.Error
				switch {
				case errors.As(err, &ne) && ne.Timeout():
					h.logger.Infow("stream_idle_timeout", "task_id", taskID, "idle", h.idleTimeout)
				case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
					h.logger.Debugw("stream_read_failed", "task_id", taskID, "error", err)
				}
				return
			}
			var in api.Frame
			if err := json.Unmarshal(msg, &in); err != nil {
				h.logger.Warnw("stream_malformed_frame", "task_id", taskID, "error", err)
				continue
			}
			switch in.Type {
			case api.FramePing, api.FrameStatusRequest:
				select {
				case requests <- in.Type:
				case <-ctx.Done():
					return
				}
			default:
				h.logger.Debugw("stream_unknown_frame", "task_id", taskID, "type", in.Type)
			}
		}
	}()

	for {
		select {
		case <-readDone:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if !h.write(c, taskID, f) {
				return
			}
		case req := <-requests:
			switch req {
			case api.FramePing:
				if !h.write(c, taskID, api.Frame{Type: api.FramePong}) {
					return
				}
			case api.FrameStatusRequest:
				if !h.sendSnapshot(ctx, c, taskID, api.FrameStatusUpdate) {
					return
				}
			}
		}
	}
}

func (h *StreamHandler) sendSnapshot(ctx context.Context, c *websocket.Conn, taskID string, t api.FrameType) bool {
	snap, err := h.service.Get(ctx, taskID)
	if err != nil {
		msg := "failed to load analysis"
		if errors.Is(err, services.ErrAnalysisNotFound) {
			msg = "Analysis not found"
		} else {
			h.logger.Errorw("stream_snapshot_failed", "task_id", taskID, "error", err)
		}
		f, _ := api.NewFrame(api.FrameAnalysisError, api.AnalysisErrorData{Error: msg})
		h.write(c, taskID, f)
		return false
	}
	f, err := api.NewFrame(t, snap)
	if err != nil {
		h.logger.Errorw("stream_frame_encode_failed", "task_id", taskID, "error", err)
		return false
	}
	return h.write(c, taskID, f)
}

func (h *StreamHandler) write(c *websocket.Conn, taskID string, f api.Frame) bool {
	_ = c.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err := c.WriteJSON(f); err != nil {
		h.logger.Debugw("stream_write_failed", "task_id", taskID, "type", f.Type, "error", err)
		return false
	}
	return true
}
