package domain

import (
	"github.com/google/uuid"
)

// ConnID identifies one live signaling channel. IDs are generated server-side
// and never reused for the lifetime of the process.
type ConnID uuid.UUID

func NewConnID() ConnID {
	return ConnID(uuid.New())
}

// ParseConnID parses a wire-format connection id, typically the "to" field of
// a targeted envelope.
func ParseConnID(s string) (ConnID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ConnID{}, err
	}
	return ConnID(id), nil
}

func (id ConnID) String() string {
	return uuid.UUID(id).String()
}
