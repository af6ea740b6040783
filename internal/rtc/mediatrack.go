package rtc

import (
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

type MediaTrackID string

// MediaTrack mirrors a remote track onto a local static RTP track so it can
// be added to the other participant's peer connection.
type MediaTrack struct {
	ID MediaTrackID

	remote *webrtc.TrackRemote
	local  *webrtc.TrackLocalStaticRTP

	done chan struct{}
}

func NewMediaTrack(id MediaTrackID, remote *webrtc.TrackRemote) (*MediaTrack, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID())
	if err != nil {
		return nil, err
	}

	return &MediaTrack{
		ID:     id,
		remote: remote,
		local:  local,
		done:   make(chan struct{}),
	}, nil
}

func (t *MediaTrack) Local() *webrtc.TrackLocalStaticRTP {
	return t.local
}

// Forward pumps RTP packets from the remote track into the local mirror
// until the remote side stops sending or the track is closed.
func (t *MediaTrack) Forward() {
	go func() {
		var (
			pkt *rtp.Packet
			err error
		)

		for {
			select {
			case <-t.done:
				return
			default:
			}

			pkt, _, err = t.remote.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Error().Err(err).Str("service", "mediatrack").Str("ID", string(t.ID)).Msg("read rtp")
				}
				return
			}

			if err = t.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				log.Error().Err(err).Str("service", "mediatrack").Str("ID", string(t.ID)).Msg("write rtp")
				return
			}
		}
	}()
}

func (t *MediaTrack) Close() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}
