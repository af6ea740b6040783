package rtc

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/config"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/pion/webrtc/v3"
)

const roomCapacity = 2

var (
	errNoParticipant = errors.New("participant is not initialized")
	ErrRoomFull      = errors.New("room is full")
)

// Room is the media plane of a single consultation: the doctor and one
// patient, each with their own peer connection. Tracks published by one
// side are mirrored to the other.
type Room struct {
	Name string

	cfg     config.PeerConfig
	rtcCfg  *config.WebRTCConfig
	rpcSink eventbus.Publisher

	lock         sync.RWMutex
	participants map[core.ParticipantID]*Participant
}

func NewRoom(
	name string,
	peerConfig config.PeerConfig,
	rtcConfig *config.WebRTCConfig,
	rpcSink eventbus.Publisher,
) *Room {
	return &Room{
		Name:         name,
		cfg:          peerConfig,
		rtcCfg:       rtcConfig,
		rpcSink:      rpcSink,
		participants: make(map[core.ParticipantID]*Participant),
	}
}

// Join creates a participant and its peer connection. Joining twice with the
// same ID returns the existing participant.
func (r *Room) Join(userID core.ParticipantID) (*Participant, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if participant, ok := r.participants[userID]; ok {
		return participant, nil
	}

	if len(r.participants) >= roomCapacity {
		return nil, ErrRoomFull
	}

	participant, err := NewParticipant(userID, r, r.rpcSink, r.cfg.EnabledCodecs, r.rtcCfg)
	if err != nil {
		return nil, err
	}

	r.participants[userID] = participant

	log.Debug().Str("service", "room").Str("room", r.Name).Str("userID", string(userID)).Msg("participant joined")

	return participant, nil
}

func (r *Room) Has(userID core.ParticipantID) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	_, ok := r.participants[userID]
	return ok
}

func (r *Room) HandleOffer(userID core.ParticipantID, params rpc.SDPParams) error {
	participant := r.participant(userID)
	if participant == nil {
		return errNoParticipant
	}

	return participant.HandleOffer(params)
}

func (r *Room) HandleAnswer(userID core.ParticipantID, params rpc.SDPParams) error {
	participant := r.participant(userID)
	if participant == nil {
		return errNoParticipant
	}

	return participant.HandleAnswer(params)
}

func (r *Room) AddICECandidate(userID core.ParticipantID, params rpc.ICECandidateParams) error {
	participant := r.participant(userID)
	if participant == nil {
		return errNoParticipant
	}

	return participant.AddICECandidate(params)
}

// mirrorTrack hands a track published by one participant to the other side
// of the consultation.
func (r *Room) mirrorTrack(publisher core.ParticipantID, track *webrtc.TrackRemote) {
	peer := r.peerOf(publisher)
	if peer == nil {
		log.Debug().Str("service", "room").Str("room", r.Name).Str("userID", string(publisher)).Msg("no peer to mirror track to")
		return
	}

	if err := peer.AttachRemoteTrack(track); err != nil {
		log.Error().Err(err).Str("service", "room").Str("room", r.Name).Str("userID", string(peer.ID)).Msg("can't attach track")
	}
}

func (r *Room) peerOf(userID core.ParticipantID) *Participant {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for id, participant := range r.participants {
		if id != userID {
			return participant
		}
	}

	return nil
}

func (r *Room) participant(userID core.ParticipantID) *Participant {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.participants[userID]
}

// Leave closes a single participant's connection and drops it from the room.
func (r *Room) Leave(userID core.ParticipantID) {
	r.lock.Lock()
	participant := r.participants[userID]
	delete(r.participants, userID)
	r.lock.Unlock()

	if participant != nil {
		participant.Close()
	}
}

func (r *Room) Close() {
	r.lock.Lock()
	defer r.lock.Unlock()

	for id, participant := range r.participants {
		participant.Close()
		delete(r.participants, id)
	}

	log.Debug().Str("service", "room").Str("room", r.Name).Msg("room closed")
}
