package port

import "github.com/x18ops/signaling/internal/core/domain"

// Conn is one live client channel as seen by the core. Implemented by the
// transport adapter; the registry holds these only as send handles.
type Conn interface {
	ID() domain.ConnID
	// Send enqueues an envelope on the connection's bounded outbound queue.
	// It never blocks; on overflow the newest message is dropped and
	// domain.ErrQueueFull returned.
	Send(env domain.Envelope) error
	Close() error
}

// HandshakeFunc builds the first envelope a channel must carry, given the id
// the registry just assigned. It is enqueued atomically with registration so
// no broadcast can precede it.
type HandshakeFunc func(domain.ConnID) domain.Envelope

// Events is the contract the transport adapter drives into the core. One
// implementation exists: the lifecycle supervisor.
type Events interface {
	// Connected registers the channel and returns its assigned id. A non-nil
	// hello is delivered to the channel before it becomes routable.
	Connected(c Conn, meta domain.ConnMeta, hello HandshakeFunc) domain.ConnID
	// Message delivers one decoded inbound envelope.
	Message(id domain.ConnID, env domain.Envelope)
	// Disconnected runs the teardown path. Idempotent.
	Disconnected(id domain.ConnID, reason string)
	// TransportError reports a channel-level failure; channelDown says
	// whether the transport has already torn the channel down.
	TransportError(id domain.ConnID, err error, channelDown bool)
}
