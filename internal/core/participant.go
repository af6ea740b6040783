package core

// ParticipantID identifies a doctor or a patient on the signaling channel.
// It is the identity the eventbus routes directed messages by.
type ParticipantID string

func (id ParticipantID) String() string {
	return string(id)
}

// ParticipantRole tells which side of a consultation a participant is on.
type ParticipantRole string

const (
	RoleDoctor  ParticipantRole = "doctor"
	RolePatient ParticipantRole = "patient"
)
