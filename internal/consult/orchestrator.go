package consult

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/queue"
	"github.com/vidmed/consultd/internal/rtc"
)

// EventSink receives consultation lifecycle notifications. The NATS audit
// publisher implements it; a nil sink disables the firehose.
type EventSink interface {
	ConsultationStarted(*core.Consultation) error
	ConsultationFinished(*core.Consultation) error
}

const (
	ReasonHangup       = "hangup"
	ReasonDisconnected = "participant_disconnected"
)

// Orchestrator is the server-side glue: it binds the signaling router's
// callbacks to the availability registry, the queue manager, the invitation
// coordinator and the media rooms.
type Orchestrator struct {
	registry    *queue.Registry
	queues      *queue.Manager
	coordinator *Coordinator
	rooms       *rtc.Rooms
	events      EventSink
}

func NewOrchestrator(
	registry *queue.Registry,
	queues *queue.Manager,
	coordinator *Coordinator,
	rooms *rtc.Rooms,
	events EventSink,
) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		queues:      queues,
		coordinator: coordinator,
		rooms:       rooms,
		events:      events,
	}
}

// Bind registers every handler on the router. Call before Router.Start.
func (o *Orchestrator) Bind(router *eventbus.Router) {
	router.OnSwitchAvailability(o.switchAvailability)
	router.OnJoinQueue(o.joinQueue)
	router.OnLeaveQueue(o.leaveQueue)
	router.OnInviteNext(o.inviteNext)
	router.OnInvitePatient(o.invitePatient)
	router.OnJoinDoctorRoom(o.joinRoom)
	router.OnEndConsultation(o.endConsultation)
	router.OnOffer(o.offer)
	router.OnAnswer(o.answer)
	router.OnAddICECandidate(o.addICECandidate)
}

// switchAvailability is fire-and-forget: repeated identical toggles are
// dropped by the registry.
func (o *Orchestrator) switchAvailability(userID core.ParticipantID, params rpc.SwitchAvailabilityParams) error {
	if o.registry.SetAvailability(userID, params.IsAvailable) {
		log.Info().Str("service", "orchestrator").Str("doctorID", string(userID)).Bool("isAvailable", params.IsAvailable).Msg("availability switched")
	}

	return nil
}

func (o *Orchestrator) joinQueue(userID core.ParticipantID, params rpc.JoinQueueParams) error {
	doctorID := core.ParticipantID(params.DoctorID)

	if !o.registry.IsOnline(doctorID) {
		return core.ErrQueueNotFound
	}

	_, err := o.queues.Join(doctorID, userID)

	return err
}

func (o *Orchestrator) leaveQueue(userID core.ParticipantID, params rpc.LeaveQueueParams) error {
	o.queues.Leave(core.ParticipantID(params.DoctorID), userID)

	return nil
}

func (o *Orchestrator) inviteNext(userID core.ParticipantID, params rpc.InviteNextParams) error {
	consultation, err := o.coordinator.InviteNext(userID)
	if err != nil {
		return err
	}

	o.started(consultation)

	return nil
}

func (o *Orchestrator) invitePatient(userID core.ParticipantID, params rpc.InvitePatientParams) error {
	consultation, err := o.coordinator.Invite(userID, core.ParticipantID(params.PatientID))
	if err != nil {
		return err
	}

	o.started(consultation)

	return nil
}

func (o *Orchestrator) started(consultation *core.Consultation) {
	if o.events == nil {
		return
	}

	if err := o.events.ConsultationStarted(consultation); err != nil {
		log.Error().Err(err).Str("service", "orchestrator").Msg("can't publish started event")
	}
}

// joinRoom puts the caller into the media room of their live consultation.
// Room creation is idempotent: whichever side arrives first creates it, the
// other side's create short-circuits on core.ErrRoomExists.
func (o *Orchestrator) joinRoom(userID core.ParticipantID, params rpc.JoinDoctorRoomParams) error {
	consultation := o.coordinator.FindByParticipant(userID)
	if consultation == nil {
		return core.ErrConsultationNotFound
	}

	room, err := o.rooms.Create(consultation.RoomName)
	if errors.Is(err, core.ErrRoomExists) {
		room = o.rooms.Get(consultation.RoomName)
	} else if err != nil {
		return err
	}

	if _, err := room.Join(userID); err != nil {
		return err
	}

	if room.Has(consultation.DoctorID) && room.Has(consultation.PatientID) {
		if err := o.coordinator.Activate(consultation.ID); err != nil {
			log.Error().Err(err).Str("service", "orchestrator").Str("consultationID", consultation.ID).Msg("can't activate consultation")
		}
	}

	return nil
}

func (o *Orchestrator) endConsultation(userID core.ParticipantID, params rpc.EndConsultationParams) error {
	return o.End(params.ConsultationID, core.ConsultationEnded, ReasonHangup)
}

// End is the single teardown funnel. Explicit hangups, counterpart
// notifications and disconnects all come through here; repeated calls for
// the same consultation are no-ops.
func (o *Orchestrator) End(consultationID string, state core.ConsultationState, reason string) error {
	consultation, err := o.coordinator.End(consultationID, state, reason)
	if err != nil {
		return err
	}
	if consultation == nil {
		return nil
	}

	o.rooms.Close(consultation.RoomName)

	if o.events != nil {
		if err := o.events.ConsultationFinished(consultation); err != nil {
			log.Error().Err(err).Str("service", "orchestrator").Msg("can't publish finished event")
		}
	}

	return nil
}

// Disconnected handles a dropped websocket: the doctor goes offline, the
// patient's Waiting entries are evicted, and a live consultation ends the
// same way a hangup would.
func (o *Orchestrator) Disconnected(userID core.ParticipantID) {
	if o.registry.MarkOffline(userID) {
		log.Info().Str("service", "orchestrator").Str("doctorID", string(userID)).Msg("doctor marked offline on disconnect")
	}

	o.queues.LeaveAll(userID)

	consultation := o.coordinator.FindByParticipant(userID)
	if consultation == nil {
		return
	}

	if err := o.End(consultation.ID, core.ConsultationEnded, ReasonDisconnected); err != nil {
		log.Error().Err(err).Str("service", "orchestrator").Str("consultationID", consultation.ID).Msg("can't end consultation on disconnect")
	}
}

func (o *Orchestrator) offer(userID core.ParticipantID, params rpc.SDPParams) error {
	room := o.rooms.Find(userID)
	if room == nil {
		return core.ErrConsultationNotFound
	}

	return room.HandleOffer(userID, params)
}

func (o *Orchestrator) answer(userID core.ParticipantID, params rpc.SDPParams) error {
	room := o.rooms.Find(userID)
	if room == nil {
		return core.ErrConsultationNotFound
	}

	return room.HandleAnswer(userID, params)
}

func (o *Orchestrator) addICECandidate(userID core.ParticipantID, params rpc.ICECandidateParams) error {
	room := o.rooms.Find(userID)
	if room == nil {
		return core.ErrConsultationNotFound
	}

	return room.AddICECandidate(userID, params)
}
