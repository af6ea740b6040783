package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/vidmed/consultd/internal/config"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/media"
)

// endGraceTimeout bounds the Ending state: if a cleanup step hangs, the
// deferred timer forces the terminal transition anyway.
const endGraceTimeout = 5 * time.Second

// Signaler sends an RPC to the server over the signaling channel.
type Signaler interface {
	Send(r rpc.Rpc) error
}

type ManagerOptions struct {
	UserID core.ParticipantID
	Role   core.ParticipantRole
	Config config.SessionConfig

	Media    media.LocalMedia
	Tokens   media.TokenService
	Provider media.RoomProvider
	Sink     media.RenderSink
	Signal   Signaler

	// OnAdvance runs after the doctor's session reaches Ended, so the next
	// patient can be called in.
	OnAdvance func()
}

// Manager drives one participant's side of a consultation from the directed
// invitation to the terminal state. Media acquisition and the token fetch
// are the only blocking steps and both run under a deadline; every exit path
// funnels through the same teardown.
type Manager struct {
	opts  ManagerOptions
	state *atomic.String

	lock           sync.Mutex
	consultationID string
	roomName       string
	localTracks    []media.LocalTrack
	attachments    map[string]media.SinkHandle
	room           media.RoomHandle
	handlers       map[media.RoomEvent]func(media.RoomEventPayload)
	endGrace       *time.Timer
}

func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		opts:        opts,
		state:       atomic.NewString(string(Idle)),
		attachments: make(map[string]media.SinkHandle),
	}
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) ConsultationID() string {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.consultationID
}

// HandleInvite arms the session with the room assignment from the directed
// invitation. Until it arrives no media is touched: a waiting patient's
// camera stays off.
func (m *Manager) HandleInvite(consultationID, roomName string) error {
	if err := m.transition(Idle, Invited); err != nil {
		return err
	}

	m.lock.Lock()
	m.consultationID = consultationID
	m.roomName = roomName
	m.lock.Unlock()

	return nil
}

// Join runs the acquire -> token -> join pipeline. A failure in any step is
// terminal for this session and leaves no track running.
func (m *Manager) Join(ctx context.Context) error {
	if err := m.transition(Invited, AcquiringMedia); err != nil {
		return err
	}

	m.lock.Lock()
	roomName := m.roomName
	m.lock.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, m.opts.Config.MediaAcquireTimeout)
	tracks, err := m.opts.Media.AcquireTracks(acquireCtx)
	cancel()
	if err != nil {
		if !m.fail() {
			return nil
		}
		return fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}

	// The consultation may have ended while acquisition blocked. That is a
	// session that joined and immediately left, not a failure: release the
	// late tracks and stop.
	m.lock.Lock()
	if state := State(m.state.Load()); state == Ending || state.IsTerminal() {
		m.lock.Unlock()
		for _, track := range tracks {
			if err := track.Stop(); err != nil {
				log.Error().Err(err).Str("service", "session").Msg("can't stop local track")
			}
		}
		return nil
	}
	m.localTracks = tracks
	m.lock.Unlock()

	tokenCtx, cancel := context.WithTimeout(ctx, m.opts.Config.TokenTimeout)
	token, err := m.opts.Tokens.RequestToken(tokenCtx, m.opts.UserID, roomName)
	cancel()
	if err != nil {
		if !m.fail() {
			return nil
		}
		if errors.Is(err, core.ErrToken) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrToken, err)
	}

	if err := m.transition(AcquiringMedia, Joining); err != nil {
		if !m.fail() {
			return nil
		}
		return err
	}

	// Both sides race to create the room; losing the race is success.
	if err := m.opts.Provider.CreateRoom(roomName); err != nil && !errors.Is(err, core.ErrRoomExists) {
		if !m.fail() {
			return nil
		}
		return fmt.Errorf("%w: %v", core.ErrRoomJoin, err)
	}

	room, err := m.opts.Provider.JoinRoom(ctx, token, roomName, tracks)
	if err != nil {
		if !m.fail() {
			return nil
		}
		return fmt.Errorf("%w: %v", core.ErrRoomJoin, err)
	}

	// The transition and the room install happen under the same lock the
	// teardown snapshot takes, so a teardown either sees the room or wins
	// the transition, never neither.
	m.lock.Lock()
	if err := m.transition(Joining, Active); err != nil {
		m.lock.Unlock()
		if leaveErr := room.Leave(); leaveErr != nil {
			log.Error().Err(leaveErr).Str("service", "session").Msg("can't leave room")
		}
		if !m.fail() {
			return nil
		}
		return err
	}
	m.room = room
	m.registerHandlersLocked()
	m.lock.Unlock()

	go m.loop(room)

	return nil
}

// Hangup is the deliberate local end: it notifies the server and tears the
// session down.
func (m *Manager) Hangup() {
	m.lock.Lock()
	consultationID := m.consultationID
	m.lock.Unlock()

	if m.opts.Signal != nil && consultationID != "" {
		end := rpc.NewEndConsultationRpc(rpc.EndConsultationParams{ConsultationID: consultationID})
		if err := m.opts.Signal.Send(end); err != nil {
			log.Error().Err(err).Str("service", "session").Str("userID", string(m.opts.UserID)).Msg("can't send end_consultation")
		}
	}

	m.teardown("hangup")
}

// HandleConsultationEnded reacts to the counterpart (or the server) ending
// the consultation.
func (m *Manager) HandleConsultationEnded(reason string) {
	m.teardown(reason)
}

// registerHandlersLocked builds the room event dispatch table. It is built
// once on entering Active and dropped in teardown; events arriving after
// deregistration are ignored.
func (m *Manager) registerHandlersLocked() {
	m.handlers = map[media.RoomEvent]func(media.RoomEventPayload){
		media.ParticipantConnected: func(payload media.RoomEventPayload) {
			log.Info().Str("service", "session").Str("userID", string(m.opts.UserID)).Str("participant", string(payload.Participant)).Msg("participant connected")
		},
		media.ParticipantDisconnected: func(payload media.RoomEventPayload) {
			m.teardown(core.ErrUnexpectedDisconnect.Error())
		},
		media.TrackSubscribed:   m.attachTrack,
		media.TrackUnsubscribed: m.detachTrack,
		media.RoomDisconnected: func(payload media.RoomEventPayload) {
			m.teardown(core.ErrUnexpectedDisconnect.Error())
		},
	}
}

func (m *Manager) loop(room media.RoomHandle) {
	for payload := range room.Events() {
		m.lock.Lock()
		handler := m.handlers[payload.Event]
		m.lock.Unlock()

		if handler == nil {
			continue
		}
		handler(payload)
	}

	// Provider closed the event stream: an implicit hangup, not a failure.
	m.teardown(core.ErrUnexpectedDisconnect.Error())
}

// attachTrack is idempotent against duplicate subscribed events: a SID that
// already has a rendering surface is not attached twice.
func (m *Manager) attachTrack(payload media.RoomEventPayload) {
	if payload.Track == nil {
		return
	}

	if m.State() != Active {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.attachments[payload.Track.SID]; ok {
		log.Debug().Str("service", "session").Str("sid", payload.Track.SID).Msg("track already attached")
		return
	}

	handle, err := m.opts.Sink.Attach(*payload.Track)
	if err != nil {
		log.Error().Err(err).Str("service", "session").Str("sid", payload.Track.SID).Msg("can't attach track")
		return
	}

	m.attachments[payload.Track.SID] = handle
}

func (m *Manager) detachTrack(payload media.RoomEventPayload) {
	if payload.Track == nil {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	handle, ok := m.attachments[payload.Track.SID]
	if !ok {
		log.Debug().Str("service", "session").Str("sid", payload.Track.SID).Msg("track already detached")
		return
	}

	if err := m.opts.Sink.Detach(handle); err != nil {
		log.Error().Err(err).Str("service", "session").Str("sid", payload.Track.SID).Msg("")
	}
	delete(m.attachments, payload.Track.SID)
}

// teardown is the single exit funnel for hangups, counterpart ends and
// disconnects. Repeated calls are no-ops. Cleanup tolerates partial
// failures: every step logs instead of aborting the rest.
func (m *Manager) teardown(reason string) {
	m.lock.Lock()

	state := State(m.state.Load())
	if state.IsTerminal() || state == Ending || state == Idle {
		m.lock.Unlock()
		return
	}
	m.state.Store(string(Ending))

	m.handlers = nil
	room := m.room
	m.room = nil
	tracks := m.localTracks
	m.localTracks = nil
	attachments := m.attachments
	m.attachments = make(map[string]media.SinkHandle)

	// If a cleanup step below blocks, the timer still moves the session to
	// its terminal state.
	m.endGrace = time.AfterFunc(endGraceTimeout, func() {
		m.state.CompareAndSwap(string(Ending), string(Ended))
	})

	m.lock.Unlock()

	log.Info().Str("service", "session").Str("userID", string(m.opts.UserID)).Str("reason", reason).Msg("session ending")

	for _, track := range tracks {
		if err := track.Stop(); err != nil {
			log.Error().Err(err).Str("service", "session").Msg("can't stop local track")
		}
	}

	for sid, handle := range attachments {
		if err := m.opts.Sink.Detach(handle); err != nil {
			log.Error().Err(err).Str("service", "session").Str("sid", sid).Msg("")
		}
	}

	if room != nil {
		if err := room.Leave(); err != nil {
			log.Error().Err(err).Str("service", "session").Msg("can't leave room")
		}
	}

	m.lock.Lock()
	if m.endGrace != nil {
		m.endGrace.Stop()
		m.endGrace = nil
	}
	m.lock.Unlock()

	m.state.CompareAndSwap(string(Ending), string(Ended))

	if m.opts.Role == core.RoleDoctor && m.opts.OnAdvance != nil {
		m.opts.OnAdvance()
	}
}

// fail moves the session to Failed and releases whatever was acquired so
// far. Unlike teardown it marks the session as unsuccessful: the caller
// surfaces the error to the user with a retry affordance. A session that a
// concurrent teardown already resolved stays in its terminal state; fail
// reports false so the caller treats the late pipeline error as a no-op.
func (m *Manager) fail() bool {
	// State moves happen under the lock, the same way teardown does it, so
	// the two can never interleave between load and store.
	m.lock.Lock()
	failed := false
	for _, from := range []State{AcquiringMedia, Joining, Active} {
		if m.state.CompareAndSwap(string(from), string(Failed)) {
			failed = true
			break
		}
	}

	tracks := m.localTracks
	m.localTracks = nil
	m.handlers = nil
	room := m.room
	m.room = nil
	m.lock.Unlock()

	for _, track := range tracks {
		if err := track.Stop(); err != nil {
			log.Error().Err(err).Str("service", "session").Msg("can't stop local track")
		}
	}
	if room != nil {
		_ = room.Leave()
	}

	return failed
}

func (m *Manager) transition(from, to State) error {
	if !canTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	if !m.state.CompareAndSwap(string(from), string(to)) {
		return fmt.Errorf("session is %s, expected %s", m.state.Load(), from)
	}

	return nil
}
