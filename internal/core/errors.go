package core

import "errors"

// Domain error taxonomy. Admission and token/media errors are terminal for
// the attempting participant and surfaced to the user; they are never
// silently retried.
var (
	// ErrAlreadyQueued is returned when a patient with a Waiting or Invited
	// entry tries to join the same doctor's queue again.
	ErrAlreadyQueued = errors.New("patient is already queued")
	// ErrQueueNotFound is returned for operations on a doctor without a queue.
	ErrQueueNotFound = errors.New("queue not found")
	// ErrEmptyQueue is returned by the invitation coordinator when there is
	// nobody waiting.
	ErrEmptyQueue = errors.New("queue is empty")
	// ErrConsultationNotFound is returned for lifecycle operations on a
	// consultation that is not live.
	ErrConsultationNotFound = errors.New("consultation not found")

	// ErrMediaAcquisition covers camera/microphone permission or hardware
	// failures while acquiring local tracks.
	ErrMediaAcquisition = errors.New("can't acquire local media")
	// ErrToken covers token service failures.
	ErrToken = errors.New("can't obtain access token")
	// ErrRoomJoin covers provider-side join failures, excluding the
	// idempotent "room already exists" case.
	ErrRoomJoin = errors.New("can't join room")
	// ErrRoomExists is the idempotent room creation short-circuit. Callers
	// treat it as success.
	ErrRoomExists = errors.New("room already exists")

	// ErrUnexpectedDisconnect marks a signaling or media drop while a session
	// is active. It is routed through the normal teardown path, not surfaced
	// as a failure.
	ErrUnexpectedDisconnect = errors.New("unexpected disconnect")
)
