package bot

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/config"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/media"
)

var errNotJoined = errors.New("room is not joined")

// signalProvider is the bot's media transport: one peer connection per
// consultation, negotiated over the signaling websocket. Answers and remote
// ICE candidates arrive asynchronously through the read loop and are fed
// back in via handleAnswer, handleOffer and addICECandidate.
type signalProvider struct {
	send sendFunc

	lock              sync.Mutex
	doctorID          string
	pc                *webrtc.PeerConnection
	pendingCandidates []webrtc.ICECandidateInit
	tracks            []*fileTrack

	events    chan media.RoomEventPayload
	closeOnce *sync.Once
}

type sendFunc func(rpc.Rpc) error

func newSignalProvider(send sendFunc) *signalProvider {
	return &signalProvider{
		send: send,
	}
}

func (p *signalProvider) setDoctorID(doctorID string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.doctorID = doctorID
}

// CreateRoom is a no-op on the client side: the orchestrator provisions the
// room when the doctor's room is joined, and treats the duplicate create as
// success.
func (p *signalProvider) CreateRoom(roomName string) error {
	return nil
}

func (p *signalProvider) JoinRoom(ctx context.Context, token string, roomName string, localTracks []media.LocalTrack) (media.RoomHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
	for _, server := range config.DefaultStunServers {
		conf.ICEServers = append(conf.ICEServers, webrtc.ICEServer{
			URLs: []string{"stun:" + server},
		})
	}

	pc, err := webrtc.NewPeerConnection(conf)
	if err != nil {
		return nil, err
	}

	p.lock.Lock()
	p.pc = pc
	p.pendingCandidates = nil
	p.tracks = nil
	p.events = make(chan media.RoomEventPayload, 16)
	p.closeOnce = &sync.Once{}
	doctorID := p.doctorID

	for _, track := range localTracks {
		published, ok := track.(*fileTrack)
		if !ok {
			continue
		}
		sender, err := pc.AddTrack(published.local)
		if err != nil {
			p.lock.Unlock()
			pc.Close()
			return nil, err
		}
		p.tracks = append(p.tracks, published)

		// Drain RTCP so interceptors run.
		go func() {
			rtcpBuf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(rtcpBuf); err != nil {
					return
				}
			}
		}()
	}
	p.lock.Unlock()

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := p.send(rpc.NewICECandidateInitRpc(candidate.ToJSON(), rpc.Publisher)); err != nil {
			log.Error().Err(err).Str("service", "bot").Msg("can't send ICE candidate")
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := media.TrackVideo
		if remote.Kind() == webrtc.RTPCodecTypeAudio {
			kind = media.TrackAudio
		}
		p.emit(media.RoomEventPayload{
			Event: media.TrackSubscribed,
			Track: &media.TrackHandle{
				Kind:  kind,
				Owner: core.ParticipantID(doctorID),
				SID:   remote.ID(),
			},
		})

		// The bot renders nothing; drain the track to keep it flowing.
		go func() {
			for {
				if _, _, err := remote.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info().Str("service", "bot").Str("state", state.String()).Msg("connection state changed")

		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.lock.Lock()
			tracks := p.tracks
			p.lock.Unlock()
			for _, track := range tracks {
				track.startPump()
			}
			p.emit(media.RoomEventPayload{
				Event:       media.ParticipantConnected,
				Participant: core.ParticipantID(doctorID),
			})
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.closeEvents()
		}
	})

	joinRoom := rpc.NewJoinDoctorRoomRpc(rpc.JoinDoctorRoomParams{DoctorID: doctorID})
	if err := p.send(joinRoom); err != nil {
		pc.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}
	if err := p.send(rpc.NewSDPOfferRpc(&offer, rpc.Publisher)); err != nil {
		pc.Close()
		return nil, err
	}

	return p, nil
}

// Events implements media.RoomHandle. The channel closes when the peer
// connection drops.
func (p *signalProvider) Events() <-chan media.RoomEventPayload {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.events
}

func (p *signalProvider) Leave() error {
	p.lock.Lock()
	pc := p.pc
	p.pc = nil
	p.lock.Unlock()

	p.closeEvents()

	if pc == nil {
		return nil
	}
	return pc.Close()
}

// handleAnswer applies the answer to the offer sent on join and flushes
// candidates that raced ahead of it.
func (p *signalProvider) handleAnswer(sdp webrtc.SessionDescription) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.pc == nil {
		return errNotJoined
	}
	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	for _, candidate := range p.pendingCandidates {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			return err
		}
	}
	p.pendingCandidates = nil

	return nil
}

// handleOffer answers a renegotiation the server starts when the doctor's
// tracks are added to the room.
func (p *signalProvider) handleOffer(sdp webrtc.SessionDescription) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.pc == nil {
		return errNotJoined
	}
	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	return p.send(rpc.NewSDPAnswerRpc(&answer, rpc.Receiver))
}

func (p *signalProvider) addICECandidate(candidate webrtc.ICECandidateInit) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.pc == nil {
		return errNotJoined
	}
	if p.pc.RemoteDescription() == nil {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
		return nil
	}

	return p.pc.AddICECandidate(candidate)
}

func (p *signalProvider) emit(payload media.RoomEventPayload) {
	p.lock.Lock()
	events := p.events
	p.lock.Unlock()

	if events == nil {
		return
	}
	select {
	case events <- payload:
	default:
		log.Warn().Str("service", "bot").Str("event", string(payload.Event)).Msg("event dropped")
	}
}

func (p *signalProvider) closeEvents() {
	p.lock.Lock()
	events := p.events
	once := p.closeOnce
	p.lock.Unlock()

	if events == nil || once == nil {
		return
	}
	once.Do(func() {
		close(events)
	})
}
