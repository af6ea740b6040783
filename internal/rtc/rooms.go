package rtc

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/config"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus"
)

// Rooms keeps every live consultation room keyed by room name.
type Rooms struct {
	cfg     config.PeerConfig
	rtcCfg  *config.WebRTCConfig
	rpcSink eventbus.Publisher

	lock  sync.RWMutex
	rooms map[string]*Room
}

func NewRooms(peerConfig config.PeerConfig, rtcConfig *config.WebRTCConfig, rpcSink eventbus.Publisher) *Rooms {
	return &Rooms{
		cfg:     peerConfig,
		rtcCfg:  rtcConfig,
		rpcSink: rpcSink,
		rooms:   make(map[string]*Room),
	}
}

// Create registers a room under the given name. The second create of the
// same name returns core.ErrRoomExists so callers can treat creation as
// idempotent.
func (r *Rooms) Create(roomName string) (*Room, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.rooms[roomName]; ok {
		return nil, core.ErrRoomExists
	}

	room := NewRoom(roomName, r.cfg, r.rtcCfg, r.rpcSink)
	r.rooms[roomName] = room

	log.Debug().Str("service", "rooms").Str("room", roomName).Msg("room created")

	return room, nil
}

func (r *Rooms) Get(roomName string) *Room {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.rooms[roomName]
}

// Find returns the room a participant currently occupies, or nil.
func (r *Rooms) Find(userID core.ParticipantID) *Room {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for _, room := range r.rooms {
		if room.Has(userID) {
			return room
		}
	}

	return nil
}

// Close tears the room down and removes it from the registry. Closing an
// unknown room is a no-op.
func (r *Rooms) Close(roomName string) {
	r.lock.Lock()
	room := r.rooms[roomName]
	delete(r.rooms, roomName)
	r.lock.Unlock()

	if room == nil {
		return
	}

	room.Close()
}

func (r *Rooms) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.rooms)
}
