package domain

// ConnState is the liveness state of a signaling channel.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// DefaultRole is stored when a client connects without declaring one. Roles
// are metadata only, never used for authorization.
const DefaultRole = "unknown"

// ConnMeta is the metadata a client declares at connect time.
type ConnMeta struct {
	RemoteAddr string
	Role       string
}
