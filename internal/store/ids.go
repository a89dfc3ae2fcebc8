package store

import "github.com/google/uuid"

// newID returns a fresh UUIDv4 string, used for both group and session ids
// (see original_source/server/src/server.rs, which uses Uuid::new_v4() for
// both).
func newID() string {
	return uuid.New().String()
}
