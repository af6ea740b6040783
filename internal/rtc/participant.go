package rtc

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/config"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/telemetry"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

const rtcpPLIInterval = 2 * time.Second

// Participant owns one side of a consultation room: a single peer
// connection that both receives the participant's published tracks and
// carries the mirrored tracks of the other side.
type Participant struct {
	sync.Mutex

	ID core.ParticipantID

	room            *Room
	transport       *PCTransport
	publishedTracks map[MediaTrackID]*webrtc.TrackRemote
	mirroredTracks  map[MediaTrackID]*MediaTrack
	sink            eventbus.Publisher
	rtcConf         *config.WebRTCConfig

	closed chan struct{}
}

func NewParticipant(
	userID core.ParticipantID,
	room *Room,
	sink eventbus.Publisher,
	enabledCodecs []config.CodecSpec,
	rtcConf *config.WebRTCConfig,
) (*Participant, error) {
	var err error

	p := &Participant{
		ID:              userID,
		room:            room,
		sink:            sink,
		rtcConf:         rtcConf,
		publishedTracks: make(map[MediaTrackID]*webrtc.TrackRemote),
		mirroredTracks:  make(map[MediaTrackID]*MediaTrack),
		closed:          make(chan struct{}),
	}

	p.transport, err = NewPCTransport(TransportParams{
		EnabledCodecs: enabledCodecs,
		Config:        rtcConf,
	})
	if err != nil {
		return nil, err
	}

	p.transport.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if err := p.sendICECandidate(candidate); err != nil {
			log.Error().Err(err).Str("service", "participant").Str("ID", string(p.ID)).Msg("error on send ICE candidate")
		}
	})
	p.transport.pc.OnConnectionStateChange(p.handleStateChange)
	p.transport.pc.OnTrack(p.onMediaTrack)

	return p, nil
}

func (p *Participant) AddICECandidate(params rpc.ICECandidateParams) error {
	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Msg("add ICE candidate")

	return p.transport.AddICECandidate(&params.ICECandidateInit)
}

func (p *Participant) sendICECandidate(candidate *webrtc.ICECandidate) error {
	if candidate == nil {
		return nil
	}

	candidateInit := candidate.ToJSON()

	return p.sink.PublishClient(p.ID, rpc.NewICECandidateInitRpc(candidateInit, rpc.Publisher))
}

// HandleOffer applies a client offer and replies with an answer over the
// signaling channel.
func (p *Participant) HandleOffer(params rpc.SDPParams) error {
	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Msg("handle offer")

	if err := p.transport.SetRemoteDescription(params.SessionDescription); err != nil {
		return err
	}

	answer, err := p.transport.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}

	if err = p.transport.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	return p.sink.PublishClient(p.ID, rpc.NewSDPAnswerRpc(p.transport.pc.LocalDescription(), rpc.Publisher))
}

// HandleAnswer finishes a renegotiation the server started after mirroring
// a track into this participant's connection.
func (p *Participant) HandleAnswer(params rpc.SDPParams) error {
	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Msg("handle answer")

	return p.transport.SetRemoteDescription(params.SessionDescription)
}

// AttachRemoteTrack mirrors a track published by the other side into this
// participant's connection and sends a renegotiation offer. Attaching the
// same track twice is a no-op.
func (p *Participant) AttachRemoteTrack(track *webrtc.TrackRemote) error {
	id := MediaTrackID(track.ID())

	p.Lock()
	if _, ok := p.mirroredTracks[id]; ok {
		p.Unlock()
		return nil
	}

	mt, err := NewMediaTrack(id, track)
	if err != nil {
		p.Unlock()
		return err
	}

	p.mirroredTracks[id] = mt
	p.Unlock()

	if _, err := p.transport.pc.AddTrack(mt.Local()); err != nil {
		return err
	}

	mt.Forward()

	return p.renegotiate()
}

func (p *Participant) renegotiate() error {
	offer, err := p.transport.pc.CreateOffer(nil)
	if err != nil {
		return err
	}

	if err := p.transport.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	return p.sink.PublishClient(p.ID, rpc.NewSDPOfferRpc(p.transport.pc.LocalDescription(), rpc.Receiver))
}

func (p *Participant) handleStateChange(state webrtc.PeerConnectionState) {
	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Str("state", state.String()).Msg("connection state changed")

	if state == webrtc.PeerConnectionStateConnected {
		telemetry.ServiceOperationCounter.WithLabelValues("ice_connection", "success", "").Add(1)
	} else if state == webrtc.PeerConnectionStateFailed {
		telemetry.ServiceOperationCounter.WithLabelValues("ice_connection", "error", "state_failed").Add(1)
		p.Close()
	}
}

func (p *Participant) onMediaTrack(track *webrtc.TrackRemote, rtpReceiver *webrtc.RTPReceiver) {
	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Str("track", track.ID()).Msg("on media track")

	// Ask the publisher for a keyframe on an interval so late joiners can
	// render video right away.
	go func() {
		ticker := time.NewTicker(rtcpPLIInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.closed:
				return
			case <-ticker.C:
				if rtcpErr := p.transport.pc.WriteRTCP(
					[]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}},
				); rtcpErr != nil {
					log.Error().Err(rtcpErr).Str("service", "participant").Str("ID", string(p.ID)).Msg("")
					return
				}
			}
		}
	}()

	p.Lock()
	p.publishedTracks[MediaTrackID(track.ID())] = track
	p.Unlock()

	// The RTP of a published track is read only by the mirror on the
	// other side of the room.
	p.room.mirrorTrack(p.ID, track)
}

func (p *Participant) Close() {
	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Msg("close participant")

	p.Lock()
	defer p.Unlock()

	select {
	case <-p.closed:
		return
	default:
		close(p.closed)
	}

	p.publishedTracks = make(map[MediaTrackID]*webrtc.TrackRemote)
	for id, t := range p.mirroredTracks {
		t.Close()
		delete(p.mirroredTracks, id)
	}

	// Close the peer connection without blocking participant close. If it is
	// gathering candidates Close will block.
	go func() {
		p.transport.Close()
	}()
}
