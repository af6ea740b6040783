package media

import (
	"context"

	"github.com/vidmed/consultd/internal/core"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// TrackHandle references one published audio or video track. Local tracks
// are owned by the side that acquired them and must be stopped on every exit
// path; for remote tracks the holder only has an attach/detach capability.
type TrackHandle struct {
	Kind  TrackKind
	Owner core.ParticipantID
	SID   string
}

// LocalTrack is a local capture track. Stop releases the device; stopping an
// already-stopped track must be a no-op.
type LocalTrack interface {
	Handle() TrackHandle
	Stop() error
}

// LocalMedia acquires camera and microphone tracks. Implementations must
// honor ctx cancellation: acquisition is one of the two operations allowed
// to block and it is always called with a deadline.
type LocalMedia interface {
	AcquireTracks(ctx context.Context) ([]LocalTrack, error)
}

// TokenService hands out short-lived credentials scoped to one identity in
// one room. External; failures surface as core.ErrToken.
type TokenService interface {
	RequestToken(ctx context.Context, identity core.ParticipantID, roomName string) (string, error)
}

// RoomProvider is the media transport boundary.
//
// CreateRoom is idempotent from the caller's point of view: both sides of a
// consultation may race to create the same room, the loser gets
// core.ErrRoomExists and treats it as success.
type RoomProvider interface {
	CreateRoom(roomName string) error
	JoinRoom(ctx context.Context, token string, roomName string, localTracks []LocalTrack) (RoomHandle, error)
}

// RoomEvent names the room lifecycle notifications a RoomHandle emits.
type RoomEvent string

const (
	ParticipantConnected    RoomEvent = "participant_connected"
	ParticipantDisconnected RoomEvent = "participant_disconnected"
	TrackSubscribed         RoomEvent = "track_subscribed"
	TrackUnsubscribed       RoomEvent = "track_unsubscribed"
	RoomDisconnected        RoomEvent = "disconnected"
)

// RoomEventPayload carries the subject of a room event. Track is set for
// track events, Participant for participant events; both are empty for
// RoomDisconnected.
type RoomEventPayload struct {
	Event       RoomEvent
	Participant core.ParticipantID
	Track       *TrackHandle
}

type RoomHandle interface {
	// Events is closed when the handle disconnects.
	Events() <-chan RoomEventPayload
	Leave() error
}

// RenderSink abstracts the surface remote tracks are attached to, so the
// orchestration logic is independent of the rendering technology.
type RenderSink interface {
	Attach(track TrackHandle) (SinkHandle, error)
	// Detach of a handle the surface already removed is a no-op.
	Detach(handle SinkHandle) error
}

type SinkHandle string
