package room

import "errors"

var (
	// ErrRoomNotFound reports an operation against a room that never existed
	// or has expired. Distinct from "exists but nothing published yet", which
	// is a normal empty result.
	ErrRoomNotFound = errors.New("room: not found")

	// ErrRoomExists reports a creation collision on an already-taken code.
	ErrRoomExists = errors.New("room: code already exists")

	// ErrRoomFull reports a push-transport join against a room that already
	// has two live participants.
	ErrRoomFull = errors.New("room: full")
)
