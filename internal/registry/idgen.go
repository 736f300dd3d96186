package registry

import (
	"strings"

	"github.com/google/uuid"
)

const roomIDLength = 12

// NewRoomID returns a short random room identifier, the part of the shared
// link users paste around.
func NewRoomID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if len(id) <= roomIDLength {
		return id
	}
	return id[:roomIDLength]
}

// NewOwnerToken returns the owner-only secret used to reclaim ownership
// after a reconnect.
func NewOwnerToken() string {
	return uuid.New().String()
}

// NewMessageID returns an identifier for a chat message.
func NewMessageID() string {
	return uuid.New().String()
}

// NewConnectionID returns a transport-scoped connection identifier.
func NewConnectionID() string {
	return uuid.New().String()
}
