package http

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/x18ops/signaling/internal/core/domain"
	"github.com/x18ops/signaling/internal/core/port"
)

// pollSession is one polling-mode channel. The client holds no socket; it
// collects outbound envelopes with long-poll requests and submits inbound
// ones with send requests. Liveness is tracked per request: a client that
// stays silent past the heartbeat window is disconnected.
//
// A session may be upgraded to streaming mode once; the connection id and
// outbox survive the upgrade, so the registry handle stays valid.
type pollSession struct {
	id    domain.ConnID
	out   *outbox
	table *sessionTable

	// pollMu admits one outbox consumer at a time: either a single poll
	// request or, after the upgrade barrier, the write pump.
	pollMu sync.Mutex
	// upgradeCh is closed when streaming takes over, waking parked polls.
	upgradeCh chan struct{}

	mu           sync.Mutex
	upgraded     *wsConn // non-nil once streaming took over
	closed       bool
	liveness     *time.Timer
	upgradeTimer *time.Timer
}

var _ port.Conn = (*pollSession)(nil)

func (s *pollSession) ID() domain.ConnID {
	return s.id
}

func (s *pollSession) Send(env domain.Envelope) error {
	return s.out.put(env)
}

func (s *pollSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.liveness != nil {
		s.liveness.Stop()
	}
	if s.upgradeTimer != nil {
		s.upgradeTimer.Stop()
	}
	ws := s.upgraded
	s.mu.Unlock()

	s.table.remove(s.id)
	if ws != nil {
		return ws.Close()
	}
	s.out.close()
	return nil
}

// touch pushes the liveness deadline out after any client request.
func (s *pollSession) touch(window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.liveness != nil {
		s.liveness.Reset(window)
	}
}

// sessionTable indexes live polling sessions by connection id.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[domain.ConnID]*pollSession
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[domain.ConnID]*pollSession)}
}

func (t *sessionTable) add(s *pollSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.id] = s
}

func (t *sessionTable) get(sid string) *pollSession {
	id, err := domain.ParseConnID(sid)
	if err != nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

func (t *sessionTable) remove(id domain.ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// ServeConnect performs the polling handshake: it allocates a session,
// registers the channel, and returns the id plus the heartbeat contract.
func (h *Handler) ServeConnect(w http.ResponseWriter, r *http.Request) {
	s := &pollSession{
		out:       newOutbox(h.Cfg.SendQueueSize),
		table:     h.sessions,
		upgradeCh: make(chan struct{}),
	}
	// No hello frame: the handshake travels in this HTTP response.
	s.id = h.Events.Connected(s, domain.ConnMeta{
		RemoteAddr: r.RemoteAddr,
		Role:       r.URL.Query().Get("role"),
	}, nil)
	window := h.Cfg.PingInterval + h.Cfg.PingTimeout
	s.liveness = time.AfterFunc(window, func() {
		h.Events.Disconnected(s.id, "ping timeout")
		s.Close()
	})
	h.sessions.add(s)

	writeJSON(w, http.StatusOK, map[string]any{
		"sid":              s.id.String(),
		"ping_interval_ms": h.Cfg.PingInterval.Milliseconds(),
		"ping_timeout_ms":  h.Cfg.PingTimeout.Milliseconds(),
	})
}

// ServeSend accepts one envelope on a polling session.
func (h *Handler) ServeSend(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.get(r.URL.Query().Get("sid"))
	if s == nil {
		http.Error(w, "unknown session", http.StatusGone)
		return
	}
	s.touch(h.Cfg.PingInterval + h.Cfg.PingTimeout)

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.Cfg.MaxMessageBytes))
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	env, err := domain.DecodeEnvelope(raw)
	if err != nil {
		log.Warn().Err(err).Str("conn_id", s.id.String()).Msg("Protocol error: frame dropped")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.Events.Message(s.id, env)
	w.WriteHeader(http.StatusNoContent)
}

// ServePoll parks until at least one outbound envelope is ready or the poll
// wait elapses, then returns everything queued.
func (h *Handler) ServePoll(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.get(r.URL.Query().Get("sid"))
	if s == nil {
		http.Error(w, "unknown session", http.StatusGone)
		return
	}
	s.touch(h.Cfg.PingInterval + h.Cfg.PingTimeout)

	s.mu.Lock()
	upgraded := s.upgraded != nil
	s.mu.Unlock()
	if upgraded {
		// The outbox belongs to the streaming channel now.
		writeJSON(w, http.StatusOK, map[string]any{"messages": []domain.Envelope{}})
		return
	}

	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	var batch []domain.Envelope

	wait := time.NewTimer(h.Cfg.PollWait)
	defer wait.Stop()
	select {
	case env, ok := <-s.out.ch:
		if !ok {
			http.Error(w, "session closed", http.StatusGone)
			return
		}
		batch = append(batch, env)
	case <-s.upgradeCh:
		// Streaming took over while this poll was parked; yield the outbox.
		writeJSON(w, http.StatusOK, map[string]any{"messages": []domain.Envelope{}})
		return
	case <-wait.C:
	case <-r.Context().Done():
		return
	}

	// Drain whatever else is already queued.
	for {
		select {
		case env, ok := <-s.out.ch:
			if !ok {
				break
			}
			batch = append(batch, env)
			continue
		default:
		}
		break
	}

	if batch == nil {
		batch = []domain.Envelope{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": batch})
}

// serveUpgrade moves a polling session to streaming mode. The upgrade must
// complete within the upgrade timeout or the session is torn down.
func (h *Handler) serveUpgrade(w http.ResponseWriter, r *http.Request, sid string) {
	s := h.sessions.get(sid)
	if s == nil {
		http.Error(w, "unknown session", http.StatusGone)
		return
	}

	s.mu.Lock()
	if s.closed || s.upgraded != nil {
		s.mu.Unlock()
		http.Error(w, "session not upgradable", http.StatusConflict)
		return
	}
	if s.liveness != nil {
		s.liveness.Stop()
	}
	s.upgradeTimer = time.AfterFunc(h.Cfg.UpgradeTimeout, func() {
		h.Events.Disconnected(s.id, "upgrade timeout")
		s.Close()
	})
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("conn_id", s.id.String()).Msg("Error while upgrading ws")
		h.Events.TransportError(s.id, err, false)
		// Back to polling; the client keeps its session.
		s.mu.Lock()
		s.upgradeTimer.Stop()
		if !s.closed && s.liveness != nil {
			s.liveness.Reset(h.Cfg.PingInterval + h.Cfg.PingTimeout)
		}
		s.mu.Unlock()
		return
	}

	c := &wsConn{
		id:     s.id,
		sock:   conn,
		out:    s.out,
		events: h.Events,
		cfg:    h.timings(),
	}

	s.mu.Lock()
	s.upgradeTimer.Stop()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.upgraded = c
	close(s.upgradeCh)
	s.mu.Unlock()

	// Barrier: wait out any poll that was already consuming the outbox, so
	// the write pump becomes the sole consumer and ordering holds — at most
	// one final poll batch on the old channel, everything after on the
	// socket.
	s.pollMu.Lock()
	s.pollMu.Unlock()

	log.Info().Str("conn_id", s.id.String()).Msg("Session upgraded to streaming")

	go c.writePump()
	c.readPump()

	// The streaming channel is gone; retire the session with it.
	s.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}
