package audit

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vidmed/consultd/internal/core"
)

const (
	// SubscriptionSubject carries consultation lifecycle events.
	SubscriptionSubject = "consultd.consultations"
	// SubscriptionQueue is the daemon's queue group: one consumer of the
	// group processes each event.
	SubscriptionQueue = "audit"

	EventStarted  = "started"
	EventFinished = "finished"
)

// Message is one consultation lifecycle event on the firehose.
type Message struct {
	Event          string                 `json:"event"`
	ConsultationID string                 `json:"consultation_id"`
	DoctorID       core.ParticipantID     `json:"doctor_id"`
	PatientID      core.ParticipantID     `json:"patient_id"`
	RoomName       string                 `json:"room_name"`
	State          core.ConsultationState `json:"state"`
	CreatedAt      time.Time              `json:"created_at"`
	EndedAt        *time.Time             `json:"ended_at,omitempty"`
}

// Publisher pushes consultation lifecycle events to NATS. It implements the
// orchestrator's event sink.
type Publisher struct {
	nc *nats.Conn
}

func NewPublisher(natsAddr string) (*Publisher, error) {
	nc, err := nats.Connect(natsAddr, nats.NoEcho())
	if err != nil {
		return nil, err
	}

	return &Publisher{nc: nc}, nil
}

func (p *Publisher) ConsultationStarted(c *core.Consultation) error {
	return p.publish(EventStarted, c)
}

func (p *Publisher) ConsultationFinished(c *core.Consultation) error {
	return p.publish(EventFinished, c)
}

func (p *Publisher) publish(event string, c *core.Consultation) error {
	payload, err := json.Marshal(Message{
		Event:          event,
		ConsultationID: c.ID,
		DoctorID:       c.DoctorID,
		PatientID:      c.PatientID,
		RoomName:       c.RoomName,
		State:          c.State,
		CreatedAt:      c.CreatedAt,
		EndedAt:        c.EndedAt,
	})
	if err != nil {
		return err
	}

	return p.nc.Publish(SubscriptionSubject, payload)
}

func (p *Publisher) Close() error {
	return p.nc.Drain()
}
