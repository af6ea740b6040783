package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/media"
)

// fileMedia plays a prerecorded IVF file as the bot's camera. It stands in
// for real device capture behind the same acquisition interface.
type fileMedia struct {
	path  string
	owner core.ParticipantID
}

func newFileMedia(path string, owner core.ParticipantID) *fileMedia {
	return &fileMedia{path: path, owner: owner}
}

func (m *fileMedia) AcquireTracks(ctx context.Context) ([]media.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}

	// Validate the file up front so a missing recording fails acquisition,
	// not the room join.
	file, err := os.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}
	_, header, err := ivfreader.NewWith(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		string(m.owner),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}

	frameInterval := time.Millisecond * time.Duration(
		(float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000,
	)

	track := &fileTrack{
		path:          m.path,
		local:         local,
		frameInterval: frameInterval,
		stop:          make(chan struct{}),
		handle: media.TrackHandle{
			Kind:  media.TrackVideo,
			Owner: m.owner,
			SID:   local.ID(),
		},
	}

	return []media.LocalTrack{track}, nil
}

// fileTrack is one published video track fed from an IVF file. The pump is
// started once the peer connection is up and loops the file until Stop.
type fileTrack struct {
	path          string
	local         *webrtc.TrackLocalStaticSample
	frameInterval time.Duration
	handle        media.TrackHandle

	stop     chan struct{}
	stopOnce sync.Once
	pumpOnce sync.Once
}

func (t *fileTrack) Handle() media.TrackHandle {
	return t.handle
}

func (t *fileTrack) Stop() error {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	return nil
}

func (t *fileTrack) startPump() {
	t.pumpOnce.Do(func() {
		go t.pump()
	})
}

func (t *fileTrack) pump() {
	ticker := time.NewTicker(t.frameInterval)
	defer ticker.Stop()

	for {
		file, err := os.Open(t.path)
		if err != nil {
			log.Error().Err(err).Str("service", "bot").Msg("can't open video file")
			return
		}
		ivf, _, err := ivfreader.NewWith(file)
		if err != nil {
			file.Close()
			log.Error().Err(err).Str("service", "bot").Msg("can't read video file")
			return
		}

		restart, err := t.sendFrames(ivf, ticker)
		file.Close()
		if err != nil {
			log.Error().Err(err).Str("service", "bot").Msg("can't write sample")
			return
		}
		if !restart {
			return
		}
	}
}

// sendFrames pushes frames until EOF or Stop. It reports whether the file
// should be replayed from the start.
func (t *fileTrack) sendFrames(ivf *ivfreader.IVFReader, ticker *time.Ticker) (bool, error) {
	for {
		select {
		case <-t.stop:
			return false, nil
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}

		err = t.local.WriteSample(pionmedia.Sample{Data: frame, Duration: t.frameInterval})
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return false, err
		}
	}
}

// countingSink is the headless stand-in for a rendering surface: it only
// counts what a real client would display.
type countingSink struct {
	lock     sync.Mutex
	attached map[media.SinkHandle]struct{}
}

func (s *countingSink) Attach(track media.TrackHandle) (media.SinkHandle, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.attached == nil {
		s.attached = make(map[media.SinkHandle]struct{})
	}
	handle := media.SinkHandle(track.SID)
	s.attached[handle] = struct{}{}

	log.Info().
		Str("service", "bot").
		Str("sid", track.SID).
		Str("kind", string(track.Kind)).
		Int("attached", len(s.attached)).
		Msg("remote track attached")

	return handle, nil
}

func (s *countingSink) Detach(handle media.SinkHandle) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.attached, handle)
	return nil
}
