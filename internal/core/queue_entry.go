package core

import "time"

type QueueEntryStatus string

const (
	QueueWaiting        QueueEntryStatus = "waiting"
	QueueInvited        QueueEntryStatus = "invited"
	QueueInConsultation QueueEntryStatus = "in_consultation"
	QueueLeft           QueueEntryStatus = "left"
)

// QueueEntry is a patient's place in a doctor's FIFO wait list. Positions are
// a contiguous 1..N ranking over Waiting entries, consistent with arrival
// order. At most one Waiting or Invited entry may exist per (doctor, patient)
// pair.
type QueueEntry struct {
	DoctorID  ParticipantID    `json:"doctor_id"`
	PatientID ParticipantID    `json:"patient_id"`
	RoomName  string           `json:"room_name,omitempty"`
	JoinedAt  time.Time        `json:"joined_at"`
	Position  int              `json:"position"`
	Status    QueueEntryStatus `json:"status"`

	// EstimatedWait is advisory only, derived from the average consultation
	// duration.
	EstimatedWait time.Duration `json:"estimated_wait"`
}
