package core

import "time"

// DoctorAvailability is the last-seen online flag of a doctor. The doctor's
// own client is the only writer; everybody else reads. It is never deleted,
// only reset to offline on disconnect.
type DoctorAvailability struct {
	DoctorID  ParticipantID `json:"doctor_id" db:"doctor_id"`
	IsOnline  bool          `json:"is_online" db:"is_online"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}
