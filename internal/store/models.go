package store

import "time"

// RemoteDocument is one owner's serialized shared document.
type RemoteDocument struct {
	OwnerID   string
	Body      []byte
	Revision  int64
	UpdatedAt time.Time
}
