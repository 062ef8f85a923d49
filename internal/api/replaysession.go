package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ernie/trinity-replay/internal/domain"
	"github.com/ernie/trinity-replay/internal/metrics"
	"github.com/ernie/trinity-replay/internal/replay"
	"github.com/ernie/trinity-replay/internal/storage"
)

// ReplayCommand is sent by the client to drive its replay session
type ReplayCommand struct {
	Action string `json:"action"`           // play, pause, seek, toggle, isolate, top, all, none
	Index  int    `json:"index,omitempty"`  // seek target
	Player string `json:"player,omitempty"` // toggle / isolate target
	N      int    `json:"n,omitempty"`      // top selection size
}

// ReplayMessage is the message format for replay sessions
type ReplayMessage struct {
	Type    string       `json:"type"` // replay_state, replay_error
	Session string       `json:"session"`
	Changed []string     `json:"changed,omitempty"`
	View    *replay.View `json:"view,omitempty"`
	Message string       `json:"message,omitempty"`
}

// changeNames lists the parts of the view a change touched
func changeNames(c replay.Change) []string {
	var names []string
	if c.Has(replay.ChangeData) {
		names = append(names, "data")
	}
	if c.Has(replay.ChangeSelection) {
		names = append(names, "selection")
	}
	if c.Has(replay.ChangeScrubber) {
		names = append(names, "scrubber")
	}
	if c.Has(replay.ChangePlayback) {
		names = append(names, "playback")
	}
	return names
}

// ReplaySession is one client's private replay of a round
type ReplaySession struct {
	id         string
	roundID    int64
	conn       *websocket.Conn
	engine     *replay.Engine
	manager    *ReplayManager
	remoteAddr string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// ReplayManager tracks live replay sessions so they can follow round updates
type ReplayManager struct {
	mu       sync.RWMutex
	store    *storage.Store
	metrics  *metrics.Metrics
	sessions map[int64]map[*ReplaySession]bool // roundID -> set of sessions
}

// NewReplayManager creates a new replay session manager
func NewReplayManager(store *storage.Store, m *metrics.Metrics) *ReplayManager {
	return &ReplayManager{
		store:    store,
		metrics:  m,
		sessions: make(map[int64]map[*ReplaySession]bool),
	}
}

// Subscribe registers a session for updates to its round
func (m *ReplayManager) Subscribe(s *ReplaySession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[s.roundID] == nil {
		m.sessions[s.roundID] = make(map[*ReplaySession]bool)
	}
	m.sessions[s.roundID][s] = true
	m.metrics.ReplaySessions.Inc()
	log.Printf("Replay session %s opened for round %d (%d watching)", s.id, s.roundID, len(m.sessions[s.roundID]))
}

// Unsubscribe removes a session
func (m *ReplayManager) Unsubscribe(s *ReplaySession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.sessions[s.roundID]
	if !ok {
		return
	}
	delete(sessions, s)
	m.metrics.ReplaySessions.Dec()
	log.Printf("Replay session %s closed for round %d (%d remaining)", s.id, s.roundID, len(sessions))
	if len(sessions) == 0 {
		delete(m.sessions, s.roundID)
	}
}

// SessionCount returns how many sessions are watching a round
func (m *ReplayManager) SessionCount(roundID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[roundID])
}

// HandleEvent reloads every session watching the updated round
func (m *ReplayManager) HandleEvent(ctx context.Context, event domain.Event) {
	if event.Type != domain.EventRoundUpdated {
		return
	}

	m.mu.RLock()
	var sessions []*ReplaySession
	for s := range m.sessions[event.RoundID] {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	if len(sessions) == 0 {
		return
	}

	data, err := m.store.GetRoundData(ctx, event.RoundID)
	if err != nil {
		log.Printf("Error reloading round %d for replay sessions: %v", event.RoundID, err)
		return
	}
	// engines share data read-only once it is normalized
	data.Normalize()
	for _, s := range sessions {
		s.engine.Load(data)
	}
}

// handleReplayWebSocket opens a replay session for one round
func (r *Router) handleReplayWebSocket(w http.ResponseWriter, req *http.Request) {
	roundID, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	data, err := r.store.GetRoundData(req.Context(), roundID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("Replay WebSocket upgrade error: %v", err)
		return
	}

	s := &ReplaySession{
		id:         uuid.NewString(),
		roundID:    roundID,
		conn:       conn,
		engine:     r.newEngine(data),
		manager:    r.replays,
		remoteAddr: getClientIP(req),
		send:       make(chan []byte, 256),
	}
	s.engine.Observe(s.pushView)
	r.replays.Subscribe(s)

	s.pushView(replay.ChangeData | replay.ChangeSelection | replay.ChangeScrubber | replay.ChangePlayback)

	go s.writePump()
	go s.readPump()
}

// pushView queues the current view for the client
func (s *ReplaySession) pushView(c replay.Change) {
	view := s.engine.View()
	if s.enqueue(ReplayMessage{
		Type:    domain.EventReplayState,
		Session: s.id,
		Changed: changeNames(c),
		View:    &view,
	}) {
		s.manager.metrics.ReplayFrames.Inc()
	}
}

func (s *ReplaySession) sendError(message string) {
	s.enqueue(ReplayMessage{Type: domain.EventReplayError, Session: s.id, Message: message})
}

// enqueue reports whether the message was queued
func (s *ReplaySession) enqueue(msg ReplayMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling replay message: %v", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		log.Printf("Replay session %s send buffer full, dropping frame", s.id)
		return false
	}
}

// shutdown closes the send channel exactly once
func (s *ReplaySession) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// apply runs one client command against the engine
func (s *ReplaySession) apply(cmd ReplayCommand) error {
	if !validateAction(cmd.Action) {
		return fmt.Errorf("unknown action %q", cmd.Action)
	}

	switch cmd.Action {
	case "play":
		if !s.engine.Play() {
			return errors.New("round has too few timestamps to play")
		}
	case "pause":
		s.engine.Pause()
	case "seek":
		s.engine.Seek(cmd.Index)
	case "toggle", "isolate":
		if _, ok := s.engine.ColorIndex(cmd.Player); !ok {
			return fmt.Errorf("unknown player %q", cmd.Player)
		}
		if cmd.Action == "toggle" {
			s.engine.TogglePlayer(cmd.Player)
		} else {
			s.engine.Isolate(cmd.Player)
		}
	case "top":
		n := cmd.N
		if n <= 0 {
			n = replay.DefaultSelectionSize
		}
		s.engine.SelectTopN(n)
	case "all":
		s.engine.SelectAll()
	case "none":
		s.engine.SelectNone()
	}
	return nil
}

// readPump reads commands until the client goes away, then tears the session down
func (s *ReplaySession) readPump() {
	defer func() {
		s.manager.Unsubscribe(s)
		s.engine.Close()
		s.shutdown()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("Replay WebSocket error from %s: %v", s.remoteAddr, err)
			}
			return
		}

		var cmd ReplayCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			s.sendError("invalid command")
			continue
		}
		if err := s.apply(cmd); err != nil {
			s.sendError(err.Error())
		}
	}
}

// writePump sends messages to the WebSocket
func (s *ReplaySession) writePump() {
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
