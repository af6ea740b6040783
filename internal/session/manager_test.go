package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmed/consultd/internal/config"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/media"
)

type MockLocalTrack struct {
	sync.Mutex
	handle media.TrackHandle
	Stops  int
}

func (t *MockLocalTrack) Handle() media.TrackHandle { return t.handle }

func (t *MockLocalTrack) Stop() error {
	t.Lock()
	defer t.Unlock()
	t.Stops++
	return nil
}

type MockLocalMedia struct {
	Err    error
	Tracks []*MockLocalTrack
	Block  bool
	// Gate, when set, holds acquisition until it is closed.
	Gate chan struct{}
}

func (m *MockLocalMedia) AcquireTracks(ctx context.Context) ([]media.LocalTrack, error) {
	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	tracks := make([]media.LocalTrack, 0, len(m.Tracks))
	for _, t := range m.Tracks {
		tracks = append(tracks, t)
	}
	return tracks, nil
}

type MockTokenService struct {
	Err error
}

func (m *MockTokenService) RequestToken(ctx context.Context, identity core.ParticipantID, roomName string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return "token-" + string(identity), nil
}

type MockRoomHandle struct {
	events    chan media.RoomEventPayload
	closeOnce sync.Once

	sync.Mutex
	Left int
}

func NewMockRoomHandle() *MockRoomHandle {
	return &MockRoomHandle{events: make(chan media.RoomEventPayload, 16)}
}

func (h *MockRoomHandle) Events() <-chan media.RoomEventPayload { return h.events }

func (h *MockRoomHandle) Leave() error {
	h.Lock()
	h.Left++
	h.Unlock()
	h.closeOnce.Do(func() { close(h.events) })
	return nil
}

func (h *MockRoomHandle) Emit(payload media.RoomEventPayload) {
	h.events <- payload
}

func (h *MockRoomHandle) Disconnect() {
	h.closeOnce.Do(func() { close(h.events) })
}

type MockProvider struct {
	sync.Mutex
	Created []string
	JoinErr error
	Handle  *MockRoomHandle
	// JoinGate, when set, holds JoinRoom until it is closed.
	JoinGate chan struct{}
}

func (p *MockProvider) CreateRoom(roomName string) error {
	p.Lock()
	defer p.Unlock()

	for _, name := range p.Created {
		if name == roomName {
			return core.ErrRoomExists
		}
	}
	p.Created = append(p.Created, roomName)
	return nil
}

func (p *MockProvider) JoinRoom(ctx context.Context, token, roomName string, localTracks []media.LocalTrack) (media.RoomHandle, error) {
	if p.JoinGate != nil {
		<-p.JoinGate
	}
	if p.JoinErr != nil {
		return nil, p.JoinErr
	}
	return p.Handle, nil
}

type MockRenderSink struct {
	sync.Mutex
	Attached []string
	Detached []media.SinkHandle
}

func (s *MockRenderSink) Attach(track media.TrackHandle) (media.SinkHandle, error) {
	s.Lock()
	defer s.Unlock()

	s.Attached = append(s.Attached, track.SID)
	return media.SinkHandle("sink-" + track.SID), nil
}

func (s *MockRenderSink) Detach(handle media.SinkHandle) error {
	s.Lock()
	defer s.Unlock()

	s.Detached = append(s.Detached, handle)
	return nil
}

func (s *MockRenderSink) AttachCount() int {
	s.Lock()
	defer s.Unlock()
	return len(s.Attached)
}

type MockSignaler struct {
	sync.Mutex
	Sent []rpc.Rpc
}

func (s *MockSignaler) Send(r rpc.Rpc) error {
	s.Lock()
	defer s.Unlock()

	s.Sent = append(s.Sent, r)
	return nil
}

type managerFixture struct {
	manager    *Manager
	localMedia *MockLocalMedia
	tokens     *MockTokenService
	provider   *MockProvider
	sink       *MockRenderSink
	signal     *MockSignaler
	handle     *MockRoomHandle
}

func newFixture(role core.ParticipantRole, onAdvance func()) *managerFixture {
	handle := NewMockRoomHandle()
	f := &managerFixture{
		localMedia: &MockLocalMedia{Tracks: []*MockLocalTrack{
			{handle: media.TrackHandle{Kind: media.TrackAudio, SID: "audio-1"}},
			{handle: media.TrackHandle{Kind: media.TrackVideo, SID: "video-1"}},
		}},
		tokens:   &MockTokenService{},
		provider: &MockProvider{Handle: handle},
		sink:     &MockRenderSink{},
		signal:   &MockSignaler{},
		handle:   handle,
	}

	f.manager = NewManager(ManagerOptions{
		UserID: "patient-1",
		Role:   role,
		Config: config.SessionConfig{
			MediaAcquireTimeout: 100 * time.Millisecond,
			TokenTimeout:        100 * time.Millisecond,
		},
		Media:     f.localMedia,
		Tokens:    f.tokens,
		Provider:  f.provider,
		Sink:      f.sink,
		Signal:    f.signal,
		OnAdvance: onAdvance,
	})

	return f
}

func (f *managerFixture) invite(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.HandleInvite("consultation-1", "c-room-1"))
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state is %s, want %s", m.State(), want)
}

func TestJoinHappyPath(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.invite(t)

	require.NoError(t, f.manager.Join(context.Background()))
	assert.Equal(t, Active, f.manager.State())
	assert.Equal(t, []string{"c-room-1"}, f.provider.Created)
}

func TestJoinBeforeInvite(t *testing.T) {
	f := newFixture(core.RolePatient, nil)

	err := f.manager.Join(context.Background())
	require.Error(t, err)
	assert.Equal(t, Idle, f.manager.State())
}

func TestMediaFailureNeverReachesJoining(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.localMedia.Err = errors.New("camera busy")
	f.invite(t)

	err := f.manager.Join(context.Background())
	assert.ErrorIs(t, err, core.ErrMediaAcquisition)
	assert.Equal(t, Failed, f.manager.State())
	assert.Empty(t, f.provider.Created)
}

func TestMediaAcquisitionTimeout(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.localMedia.Block = true
	f.invite(t)

	err := f.manager.Join(context.Background())
	assert.ErrorIs(t, err, core.ErrMediaAcquisition)
	assert.Equal(t, Failed, f.manager.State())
}

func TestTokenFailureStopsAcquiredTracks(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.tokens.Err = core.ErrToken
	f.invite(t)

	err := f.manager.Join(context.Background())
	assert.ErrorIs(t, err, core.ErrToken)
	assert.Equal(t, Failed, f.manager.State())

	for _, track := range f.localMedia.Tracks {
		assert.Equal(t, 1, track.Stops)
	}
}

func TestRoomExistsIsSwallowed(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.provider.Created = []string{"c-room-1"}
	f.invite(t)

	require.NoError(t, f.manager.Join(context.Background()))
	assert.Equal(t, Active, f.manager.State())
}

func TestJoinRoomFailure(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.provider.JoinErr = errors.New("room rejected us")
	f.invite(t)

	err := f.manager.Join(context.Background())
	assert.ErrorIs(t, err, core.ErrRoomJoin)
	assert.Equal(t, Failed, f.manager.State())
}

func TestEndDuringAcquisitionStaysEnded(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.localMedia.Block = true
	f.invite(t)

	joined := make(chan error, 1)
	go func() { joined <- f.manager.Join(context.Background()) }()

	waitForState(t, f.manager, AcquiringMedia)
	f.manager.HandleConsultationEnded("hangup")
	assert.Equal(t, Ended, f.manager.State())

	// the blocked acquisition now times out; the ended session stays ended
	require.NoError(t, <-joined)
	assert.Equal(t, Ended, f.manager.State())
	assert.Empty(t, f.provider.Created)
}

func TestEndDuringAcquisitionReleasesLateTracks(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.localMedia.Gate = make(chan struct{})
	f.invite(t)

	joined := make(chan error, 1)
	go func() { joined <- f.manager.Join(context.Background()) }()

	waitForState(t, f.manager, AcquiringMedia)
	f.manager.HandleConsultationEnded("hangup")
	close(f.localMedia.Gate)

	require.NoError(t, <-joined)
	assert.Equal(t, Ended, f.manager.State())
	assert.Empty(t, f.provider.Created)
	for _, track := range f.localMedia.Tracks {
		assert.Equal(t, 1, track.Stops)
	}
}

func TestEndDuringRoomJoinLeavesRoom(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.provider.JoinGate = make(chan struct{})
	f.invite(t)

	joined := make(chan error, 1)
	go func() { joined <- f.manager.Join(context.Background()) }()

	waitForState(t, f.manager, Joining)
	f.manager.HandleConsultationEnded("hangup")
	close(f.provider.JoinGate)

	require.NoError(t, <-joined)
	assert.Equal(t, Ended, f.manager.State())
	assert.Equal(t, 1, f.handle.Left)
	for _, track := range f.localMedia.Tracks {
		assert.Equal(t, 1, track.Stops)
	}
}

func TestDuplicateTrackSubscribedAttachesOnce(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.invite(t)
	require.NoError(t, f.manager.Join(context.Background()))

	track := &media.TrackHandle{Kind: media.TrackVideo, Owner: "doctor-1", SID: "remote-video-1"}
	f.handle.Emit(media.RoomEventPayload{Event: media.TrackSubscribed, Track: track})
	f.handle.Emit(media.RoomEventPayload{Event: media.TrackSubscribed, Track: track})

	assert.Eventually(t, func() bool { return f.sink.AttachCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.sink.AttachCount())
}

func TestDetachMissingTrackIsNoop(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.invite(t)
	require.NoError(t, f.manager.Join(context.Background()))

	track := &media.TrackHandle{Kind: media.TrackVideo, Owner: "doctor-1", SID: "never-seen"}
	f.handle.Emit(media.RoomEventPayload{Event: media.TrackUnsubscribed, Track: track})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Active, f.manager.State())
	assert.Empty(t, f.sink.Detached)
}

func TestHangupSendsEndAndTearsDown(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.invite(t)
	require.NoError(t, f.manager.Join(context.Background()))

	f.manager.Hangup()

	assert.Equal(t, Ended, f.manager.State())
	for _, track := range f.localMedia.Tracks {
		assert.Equal(t, 1, track.Stops)
	}
	assert.Equal(t, 1, f.handle.Left)

	f.signal.Lock()
	require.Len(t, f.signal.Sent, 1)
	assert.Equal(t, rpc.EndConsultationMethod, f.signal.Sent[0].GetMethod())
	f.signal.Unlock()
}

func TestDisconnectWhileActiveEndsSession(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.invite(t)
	require.NoError(t, f.manager.Join(context.Background()))

	f.handle.Disconnect()

	waitForState(t, f.manager, Ended)
	for _, track := range f.localMedia.Tracks {
		assert.Equal(t, 1, track.Stops)
	}
}

func TestCounterpartEndTearsDown(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.invite(t)
	require.NoError(t, f.manager.Join(context.Background()))

	f.manager.HandleConsultationEnded("hangup")

	assert.Equal(t, Ended, f.manager.State())
	// no end_consultation echoed back
	f.signal.Lock()
	assert.Empty(t, f.signal.Sent)
	f.signal.Unlock()
}

func TestTeardownIsIdempotent(t *testing.T) {
	f := newFixture(core.RolePatient, nil)
	f.invite(t)
	require.NoError(t, f.manager.Join(context.Background()))

	f.manager.HandleConsultationEnded("hangup")
	f.manager.HandleConsultationEnded("hangup")
	f.manager.Hangup()

	assert.Equal(t, Ended, f.manager.State())
	assert.Equal(t, 1, f.handle.Left)
	for _, track := range f.localMedia.Tracks {
		assert.Equal(t, 1, track.Stops)
	}
}

func TestDoctorAdvancesQueueAfterEnded(t *testing.T) {
	advanced := make(chan struct{}, 1)
	f := newFixture(core.RoleDoctor, func() { advanced <- struct{}{} })
	f.invite(t)
	require.NoError(t, f.manager.Join(context.Background()))

	f.manager.Hangup()

	select {
	case <-advanced:
	default:
		t.Fatal("doctor teardown did not advance the queue")
	}
}

func TestPatientDoesNotAdvanceQueue(t *testing.T) {
	advanced := make(chan struct{}, 1)
	f := newFixture(core.RolePatient, func() { advanced <- struct{}{} })
	f.invite(t)
	require.NoError(t, f.manager.Join(context.Background()))

	f.manager.Hangup()

	select {
	case <-advanced:
		t.Fatal("patient teardown must not advance the queue")
	default:
	}
}
