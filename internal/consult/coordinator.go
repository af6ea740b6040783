package consult

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/queue"
	"github.com/vidmed/consultd/internal/telemetry"
)

// Coordinator turns queue entries into consultations. It owns the set of
// live consultations, persists their lifecycle and publishes the directed
// invitation to the chosen patient.
type Coordinator struct {
	queues        *queue.Manager
	consultations core.ConsultationsDBStorer
	sink          eventbus.Publisher

	lock   sync.Mutex
	active map[string]*core.Consultation
}

func NewCoordinator(queues *queue.Manager, consultations core.ConsultationsDBStorer, sink eventbus.Publisher) *Coordinator {
	return &Coordinator{
		queues:        queues,
		consultations: consultations,
		sink:          sink,
		active:        make(map[string]*core.Consultation),
	}
}

// InviteNext pops the head of the doctor's queue and starts a consultation
// with that patient. Returns core.ErrEmptyQueue when nobody is waiting.
func (c *Coordinator) InviteNext(doctorID core.ParticipantID) (*core.Consultation, error) {
	entry, err := c.queues.PopHead(doctorID)
	if err != nil {
		return nil, err
	}

	return c.begin(doctorID, entry.PatientID)
}

// Invite starts a consultation with a specific patient. The patient's queue
// entry is removed if one exists; a patient who never queued still gets a
// consultation.
func (c *Coordinator) Invite(doctorID, patientID core.ParticipantID) (*core.Consultation, error) {
	if entry := c.queues.Take(doctorID, patientID); entry == nil {
		log.Debug().Str("service", "coordinator").Str("doctorID", string(doctorID)).Str("patientID", string(patientID)).Msg("direct invite without queue entry")
	}

	return c.begin(doctorID, patientID)
}

func (c *Coordinator) begin(doctorID, patientID core.ParticipantID) (*core.Consultation, error) {
	consultation := core.NewConsultation(doctorID, patientID)

	if err := c.consultations.Save(consultation); err != nil {
		// No invitation without a persisted consultation. Release the
		// invited mark so the patient can queue again.
		c.queues.Release(doctorID, patientID)
		c.queues.Advance(doctorID)
		return nil, err
	}

	c.lock.Lock()
	c.active[consultation.ID] = consultation
	c.lock.Unlock()

	invite := rpc.NewInvitePatientRpc(rpc.InvitePatientParams{
		ConsultationID: consultation.ID,
		DoctorID:       string(doctorID),
		PatientID:      string(patientID),
		RoomName:       consultation.RoomName,
	})

	if err := c.sink.PublishClient(patientID, invite); err != nil {
		log.Error().Err(err).Str("service", "coordinator").Str("patientID", string(patientID)).Msg("can't publish invitation")
	}
	// The doctor's client needs the room name too.
	if err := c.sink.PublishClient(doctorID, invite); err != nil {
		log.Error().Err(err).Str("service", "coordinator").Str("doctorID", string(doctorID)).Msg("can't publish invitation")
	}

	c.queues.Advance(doctorID)
	telemetry.ServiceOperationCounter.WithLabelValues("invitation", "success", "").Add(1)
	telemetry.SessionStarted()

	return consultation, nil
}

// Activate marks an invited consultation active once both sides are in the
// room.
func (c *Coordinator) Activate(consultationID string) error {
	c.lock.Lock()
	consultation, ok := c.active[consultationID]
	if ok {
		consultation.State = core.ConsultationActive
	}
	c.lock.Unlock()

	if !ok {
		return core.ErrConsultationNotFound
	}

	return c.consultations.MarkActive(consultationID)
}

// End finishes a live consultation: persists the terminal state, notifies
// both parties, releases the patient's invited mark and advances the queue.
// Ending an unknown or already ended consultation returns nil, nil so every
// teardown path can funnel here without ordering concerns.
func (c *Coordinator) End(consultationID string, state core.ConsultationState, reason string) (*core.Consultation, error) {
	c.lock.Lock()
	consultation, ok := c.active[consultationID]
	delete(c.active, consultationID)
	c.lock.Unlock()

	if !ok {
		return nil, nil
	}

	endedAt := time.Now()
	consultation.State = state
	consultation.EndedAt = &endedAt

	if err := c.consultations.Finish(consultationID, state, endedAt); err != nil {
		log.Error().Err(err).Str("service", "coordinator").Str("consultationID", consultationID).Msg("can't persist consultation end")
	}

	ended := rpc.NewConsultationEndedRpc(rpc.ConsultationEndedParams{
		ConsultationID: consultationID,
		Reason:         reason,
	})
	for _, id := range []core.ParticipantID{consultation.DoctorID, consultation.PatientID} {
		if err := c.sink.PublishClient(id, ended); err != nil {
			log.Error().Err(err).Str("service", "coordinator").Str("userID", string(id)).Msg("can't publish consultation end")
		}
	}

	c.queues.Release(consultation.DoctorID, consultation.PatientID)
	c.queues.Advance(consultation.DoctorID)
	if state == core.ConsultationEnded {
		c.queues.RecordDuration(consultation.Duration())
	}
	telemetry.SessionStopped()

	return consultation, nil
}

// Find returns a live consultation by ID, or nil.
func (c *Coordinator) Find(consultationID string) *core.Consultation {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.active[consultationID]
}

// FindByParticipant returns the live consultation a doctor or patient is
// part of, or nil. Used to tear down on websocket disconnects.
func (c *Coordinator) FindByParticipant(userID core.ParticipantID) *core.Consultation {
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, consultation := range c.active {
		if consultation.DoctorID == userID || consultation.PatientID == userID {
			return consultation
		}
	}

	return nil
}
