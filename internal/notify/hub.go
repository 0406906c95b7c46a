package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FeedMessage is the frame written to merchant feed subscribers
type FeedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscriber struct {
	conn       *websocket.Conn
	send       chan []byte
	merchantID string
}

// Hub is a live feed of spin outcomes for connected merchant dashboards
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*subscriber]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[*subscriber]struct{}),
		logger:  logger,
	}
}

// Name implements Sink
func (h *Hub) Name() string { return "websocket" }

// Deliver queues the event for every subscriber of the merchant. Slow
// subscribers drop frames.
func (h *Hub) Deliver(_ context.Context, ev *SpinResolved) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	frame, err := json.Marshal(FeedMessage{Type: "spin_resolved", Payload: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.clients[ev.MerchantID]
	if len(subs) == 0 {
		return ErrSkipped
	}
	for s := range subs {
		select {
		case s.send <- frame:
		default:
			h.logger.Debug("feed subscriber buffer full, dropping frame",
				zap.String("merchant_id", ev.MerchantID))
		}
	}
	return nil
}

// Serve upgrades the request and streams the merchant's events until the
// connection closes
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, merchantID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	s := &subscriber{
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		merchantID: merchantID,
	}
	hello, _ := json.Marshal(FeedMessage{Type: "connected"})
	s.send <- hello
	h.register(s)
	h.logger.Debug("feed subscriber connected",
		zap.String("merchant_id", merchantID), zap.Int("subscribers", h.subscribers(merchantID)))

	go s.writePump()
	go h.readPump(s)
	return nil
}

// subscribers returns the number of open feeds for a merchant
func (h *Hub) subscribers(merchantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[merchantID])
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for merchantID, subs := range h.clients {
		for s := range subs {
			close(s.send)
		}
		delete(h.clients, merchantID)
	}
}

func (h *Hub) register(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[s.merchantID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.clients[s.merchantID] = subs
	}
	subs[s] = struct{}{}
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[s.merchantID]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	close(s.send)
	if len(subs) == 0 {
		delete(h.clients, s.merchantID)
	}
}

// writePump pumps frames from the send channel to the connection
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and detects disconnects
func (h *Hub) readPump(s *subscriber) {
	defer func() {
		h.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("feed connection closed", zap.String("merchant_id", s.merchantID), zap.Error(err))
			}
			return
		}
	}
}
