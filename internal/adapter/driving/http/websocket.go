package http

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/x18ops/signaling/internal/core/domain"
	"github.com/x18ops/signaling/internal/core/port"
)

// Time allowed to write one message or ping to the peer.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: only for dev
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one streaming-mode channel. The write pump is the only writer on
// the socket; everything outbound goes through the outbox.
type wsConn struct {
	id     domain.ConnID
	sock   *websocket.Conn
	out    *outbox
	events port.Events
	cfg    transportTimings

	closeOnce sync.Once
}

// transportTimings is the slice of config both channel modes consume.
type transportTimings struct {
	pingInterval    time.Duration
	pingTimeout     time.Duration
	maxMessageBytes int64
}

var _ port.Conn = (*wsConn)(nil)

func (c *wsConn) ID() domain.ConnID {
	return c.id
}

func (c *wsConn) Send(env domain.Envelope) error {
	return c.out.put(env)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.out.close()
		c.sock.Close()
	})
	return nil
}

// ServeWS establishes a streaming-mode connection, or upgrades an existing
// polling session when a sid query parameter is present.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if sid := r.URL.Query().Get("sid"); sid != "" {
		h.serveUpgrade(w, r, sid)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	c := &wsConn{
		sock:   conn,
		out:    newOutbox(h.Cfg.SendQueueSize),
		events: h.Events,
		cfg:    h.timings(),
	}
	// The connected frame is enqueued by the registry under its lock, so it
	// is first on the channel ahead of any concurrent broadcast.
	c.id = h.Events.Connected(c, domain.ConnMeta{
		RemoteAddr: r.RemoteAddr,
		Role:       r.URL.Query().Get("role"),
	}, h.connectedEnvelope)

	go c.writePump()
	c.readPump()
}

func (h *Handler) timings() transportTimings {
	return transportTimings{
		pingInterval:    h.Cfg.PingInterval,
		pingTimeout:     h.Cfg.PingTimeout,
		maxMessageBytes: h.Cfg.MaxMessageBytes,
	}
}

// connectedEnvelope is the first frame on any new channel: it tells the
// client its assigned id and the heartbeat contract.
func (h *Handler) connectedEnvelope(id domain.ConnID) domain.Envelope {
	return domain.MustEnvelope(domain.EventConnected, map[string]any{
		"sid":              id.String(),
		"ping_interval_ms": h.Cfg.PingInterval.Milliseconds(),
		"ping_timeout_ms":  h.Cfg.PingTimeout.Milliseconds(),
	})
}

// readPump reads inbound frames until the channel dies, decoding each one at
// this single boundary and handing it to the core. Runs on the handler
// goroutine; exactly one reader per socket.
func (c *wsConn) readPump() {
	defer c.Close()

	liveness := c.cfg.pingInterval + c.cfg.pingTimeout
	c.sock.SetReadLimit(c.cfg.maxMessageBytes)
	c.sock.SetReadDeadline(time.Now().Add(liveness))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(liveness))
		return nil
	})

	l := log.With().Str("conn_id", c.id.String()).Logger()

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			var nerr net.Error
			switch {
			case errors.As(err, &nerr) && nerr.Timeout():
				c.events.Disconnected(c.id, "ping timeout")
			case websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure):
				c.events.TransportError(c.id, err, true)
			default:
				c.events.Disconnected(c.id, "client closed")
			}
			return
		}
		c.sock.SetReadDeadline(time.Now().Add(liveness))

		env, err := domain.DecodeEnvelope(raw)
		if err != nil {
			l.Warn().Err(err).Msg("Protocol error: frame dropped")
			continue
		}
		c.events.Message(c.id, env)
	}
}

// writePump drains the outbox to the socket and keeps the heartbeat going.
// Exactly one writer per socket.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.pingInterval)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case env, ok := <-c.out.ch:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteJSON(env); err != nil {
				log.Error().Err(err).Str("conn_id", c.id.String()).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
