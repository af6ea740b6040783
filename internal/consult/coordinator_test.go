package consult

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/queue"
)

type MockPublisher struct {
	sync.Mutex
	Messages map[core.ParticipantID][]rpc.Rpc
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{Messages: make(map[core.ParticipantID][]rpc.Rpc)}
}

func (p *MockPublisher) PublishClient(userID core.ParticipantID, message rpc.Rpc) error {
	p.Lock()
	defer p.Unlock()

	p.Messages[userID] = append(p.Messages[userID], message)
	return nil
}

func (p *MockPublisher) PublishServer(userID core.ParticipantID, message rpc.Rpc) error {
	return nil
}

func (p *MockPublisher) LastByMethod(userID core.ParticipantID, method rpc.Method) rpc.Rpc {
	p.Lock()
	defer p.Unlock()

	for i := len(p.Messages[userID]) - 1; i >= 0; i-- {
		if p.Messages[userID][i].GetMethod() == method {
			return p.Messages[userID][i]
		}
	}
	return nil
}

type MockConsultationsStore struct {
	sync.Mutex
	Saved    []*core.Consultation
	Active   []string
	Finished []string
	SaveErr  error
}

func (s *MockConsultationsStore) Save(c *core.Consultation) error {
	s.Lock()
	defer s.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Saved = append(s.Saved, c)
	return nil
}

func (s *MockConsultationsStore) MarkActive(id string) error {
	s.Lock()
	defer s.Unlock()

	s.Active = append(s.Active, id)
	return nil
}

func (s *MockConsultationsStore) Finish(id string, state core.ConsultationState, endedAt time.Time) error {
	s.Lock()
	defer s.Unlock()

	s.Finished = append(s.Finished, id)
	return nil
}

func (s *MockConsultationsStore) FindByID(id string) (*core.Consultation, error) {
	s.Lock()
	defer s.Unlock()

	for _, c := range s.Saved {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (s *MockConsultationsStore) ActiveByDoctor(doctorID core.ParticipantID) (*core.Consultation, error) {
	return nil, nil
}

func newTestCoordinator() (*Coordinator, *queue.Manager, *MockConsultationsStore, *MockPublisher) {
	sink := NewMockPublisher()
	queues := queue.NewManager(sink, 10*time.Minute)
	store := &MockConsultationsStore{}

	return NewCoordinator(queues, store, sink), queues, store, sink
}

func TestInviteNextPopsHead(t *testing.T) {
	coordinator, queues, store, sink := newTestCoordinator()

	_, err := queues.Join("doctor-1", "patient-1")
	require.NoError(t, err)
	_, err = queues.Join("doctor-1", "patient-2")
	require.NoError(t, err)

	consultation, err := coordinator.InviteNext("doctor-1")
	require.NoError(t, err)

	assert.Equal(t, core.ParticipantID("patient-1"), consultation.PatientID)
	assert.Equal(t, core.ConsultationInvited, consultation.State)
	assert.Equal(t, "c-"+consultation.ID, consultation.RoomName)
	require.Len(t, store.Saved, 1)

	// directed invitation reaches the popped patient and the doctor only
	invite := sink.LastByMethod("patient-1", rpc.InvitePatientMethod)
	require.NotNil(t, invite)
	params := invite.(*rpc.InvitePatientRpc).Params
	assert.Equal(t, consultation.RoomName, params.RoomName)
	assert.NotNil(t, sink.LastByMethod("doctor-1", rpc.InvitePatientMethod))
	assert.Nil(t, sink.LastByMethod("patient-2", rpc.InvitePatientMethod))

	// the remaining patient moved up
	head := queues.PeekHead("doctor-1")
	require.NotNil(t, head)
	assert.Equal(t, core.ParticipantID("patient-2"), head.PatientID)
	assert.Equal(t, 1, head.Position)
}

func TestInviteNextEmptyQueue(t *testing.T) {
	coordinator, _, _, _ := newTestCoordinator()

	_, err := coordinator.InviteNext("doctor-1")
	assert.ErrorIs(t, err, core.ErrEmptyQueue)
}

func TestInviteSpecificPatient(t *testing.T) {
	coordinator, queues, _, _ := newTestCoordinator()

	_, err := queues.Join("doctor-1", "patient-1")
	require.NoError(t, err)
	_, err = queues.Join("doctor-1", "patient-2")
	require.NoError(t, err)

	consultation, err := coordinator.Invite("doctor-1", "patient-2")
	require.NoError(t, err)
	assert.Equal(t, core.ParticipantID("patient-2"), consultation.PatientID)

	// patient-1 keeps position 1, patient-2 is gone from the wait list
	waiting := queues.Waiting("doctor-1")
	require.Len(t, waiting, 1)
	assert.Equal(t, core.ParticipantID("patient-1"), waiting[0].PatientID)
}

func TestInviteWithoutQueueEntry(t *testing.T) {
	coordinator, _, store, sink := newTestCoordinator()

	consultation, err := coordinator.Invite("doctor-1", "patient-9")
	require.NoError(t, err)
	require.NotNil(t, consultation)
	assert.Len(t, store.Saved, 1)
	assert.NotNil(t, sink.LastByMethod("patient-9", rpc.InvitePatientMethod))
}

func TestInviteSaveFailureReleasesPatient(t *testing.T) {
	coordinator, queues, store, _ := newTestCoordinator()
	store.SaveErr = errors.New("db down")

	_, err := queues.Join("doctor-1", "patient-1")
	require.NoError(t, err)

	_, err = coordinator.InviteNext("doctor-1")
	require.Error(t, err)

	// the patient is not stuck in the invited set and can re-join
	_, err = queues.Join("doctor-1", "patient-1")
	assert.NoError(t, err)
}

func TestEndNotifiesBothAndAdvances(t *testing.T) {
	coordinator, queues, store, sink := newTestCoordinator()

	_, err := queues.Join("doctor-1", "patient-1")
	require.NoError(t, err)
	_, err = queues.Join("doctor-1", "patient-2")
	require.NoError(t, err)

	consultation, err := coordinator.InviteNext("doctor-1")
	require.NoError(t, err)

	ended, err := coordinator.End(consultation.ID, core.ConsultationEnded, ReasonHangup)
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, core.ConsultationEnded, ended.State)
	require.NotNil(t, ended.EndedAt)
	assert.Contains(t, store.Finished, consultation.ID)

	for _, id := range []core.ParticipantID{"doctor-1", "patient-1"} {
		notification := sink.LastByMethod(id, rpc.ConsultationEndedMethod)
		require.NotNil(t, notification, "no consultation_ended for %s", id)
		assert.Equal(t, ReasonHangup, notification.(*rpc.ConsultationEndedRpc).Params.Reason)
	}

	// released: the same pair may queue again
	_, err = queues.Join("doctor-1", "patient-1")
	assert.NoError(t, err)
}

func TestEndIsIdempotent(t *testing.T) {
	coordinator, queues, store, _ := newTestCoordinator()

	_, err := queues.Join("doctor-1", "patient-1")
	require.NoError(t, err)

	consultation, err := coordinator.InviteNext("doctor-1")
	require.NoError(t, err)

	first, err := coordinator.End(consultation.ID, core.ConsultationEnded, ReasonHangup)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := coordinator.End(consultation.ID, core.ConsultationEnded, ReasonHangup)
	require.NoError(t, err)
	assert.Nil(t, second)

	assert.Len(t, store.Finished, 1)
}

func TestFindByParticipant(t *testing.T) {
	coordinator, queues, _, _ := newTestCoordinator()

	_, err := queues.Join("doctor-1", "patient-1")
	require.NoError(t, err)

	consultation, err := coordinator.InviteNext("doctor-1")
	require.NoError(t, err)

	assert.Equal(t, consultation, coordinator.FindByParticipant("doctor-1"))
	assert.Equal(t, consultation, coordinator.FindByParticipant("patient-1"))
	assert.Nil(t, coordinator.FindByParticipant("patient-2"))

	_, err = coordinator.End(consultation.ID, core.ConsultationEnded, ReasonHangup)
	require.NoError(t, err)
	assert.Nil(t, coordinator.FindByParticipant("doctor-1"))
}
