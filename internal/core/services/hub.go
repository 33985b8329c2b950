package services

import (
	"sync"

	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/pkg/api"
)

// Hub fans task frames out to stream subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the frame.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan api.Frame]struct{}
	bufferSize  int
	log         *logger.Logger
}

func NewHub(bufferSize int, log *logger.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		subscribers: make(map[string]map[chan api.Frame]struct{}),
		bufferSize:  bufferSize,
		log:         log,
	}
}

// Subscribe returns a channel of frames for taskID and a func that releases it.
// The channel is closed on unsubscribe.
func (h *Hub) Subscribe(taskID string) (<-chan api.Frame, func()) {
	ch := make(chan api.Frame, h.bufferSize)

	h.mu.Lock()
	subs, ok := h.subscribers[taskID]
	if !ok {
		subs = make(map[chan api.Frame]struct{})
		h.subscribers[taskID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subscribers[taskID]; ok {
				if _, ok := subs[ch]; ok {
					delete(subs, ch)
					close(ch)
				}
				if len(subs) == 0 {
					delete(h.subscribers, taskID)
				}
			}
		})
	}
}

func (h *Hub) Publish(taskID string, frame api.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[taskID] {
		select {
		case ch <- frame:
		default:
			h.log.Warnw("stream_frame_dropped", "task_id", taskID, "type", frame.Type)
		}
	}
}

func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[taskID])
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for taskID, subs := range h.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(h.subscribers, taskID)
	}
}
