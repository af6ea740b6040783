package core

import (
	"time"

	"github.com/google/uuid"
)

type ConsultationState string

const (
	ConsultationInvited ConsultationState = "invited"
	ConsultationActive  ConsultationState = "active"
	ConsultationEnded   ConsultationState = "ended"
	ConsultationFailed  ConsultationState = "failed"
)

// Consultation pairs a doctor with an invited patient. It is created by the
// invitation coordinator and owned by the session lifecycle from then on;
// once a patient is invited the consultation, not the queue, is the source of
// truth for the pairing.
type Consultation struct {
	ID        string            `json:"id" db:"id"`
	DoctorID  ParticipantID     `json:"doctor_id" db:"doctor_id"`
	PatientID ParticipantID     `json:"patient_id" db:"patient_id"`
	RoomName  string            `json:"room_name" db:"room_name"`
	State     ConsultationState `json:"state" db:"state"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty" db:"ended_at"`
}

// NewConsultation allocates a consultation in the invited state. The room
// name is derived from the consultation ID, never from participant IDs, so
// repeated consultations between the same pair can't collide on a stale room.
func NewConsultation(doctorID, patientID ParticipantID) *Consultation {
	id := uuid.NewString()

	return &Consultation{
		ID:        id,
		DoctorID:  doctorID,
		PatientID: patientID,
		RoomName:  "c-" + id,
		State:     ConsultationInvited,
		CreatedAt: time.Now(),
	}
}

// Duration is the wall time the consultation lasted; zero until ended.
func (c *Consultation) Duration() time.Duration {
	if c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(c.CreatedAt)
}

func (c *Consultation) IsTerminal() bool {
	return c.State == ConsultationEnded || c.State == ConsultationFailed
}
