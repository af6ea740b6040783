package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
)

type MockPublisher struct {
	lock     sync.Mutex
	Messages map[core.ParticipantID][]rpc.Rpc
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{Messages: make(map[core.ParticipantID][]rpc.Rpc)}
}

func (p *MockPublisher) PublishClient(id core.ParticipantID, r rpc.Rpc) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.Messages[id] = append(p.Messages[id], r)

	return nil
}

func (p *MockPublisher) PublishServer(id core.ParticipantID, r rpc.Rpc) error {
	return nil
}

func (p *MockPublisher) LastPosition(id core.ParticipantID) *rpc.QueuePositionParams {
	p.lock.Lock()
	defer p.lock.Unlock()

	for i := len(p.Messages[id]) - 1; i >= 0; i-- {
		if m, ok := p.Messages[id][i].(*rpc.QueuePositionRpc); ok {
			return &m.Params
		}
	}

	return nil
}

func newTestManager() (*Manager, *MockPublisher) {
	sink := NewMockPublisher()

	return NewManager(sink, 10*time.Minute), sink
}

func TestJoinAssignsArrivalPositions(t *testing.T) {
	m, sink := newTestManager()

	p1, err := m.Join("doc-1", "pat-1")
	require.NoError(t, err)
	p2, err := m.Join("doc-1", "pat-2")
	require.NoError(t, err)
	p3, err := m.Join("doc-1", "pat-3")
	require.NoError(t, err)

	assert.Equal(t, 1, p1.Position)
	assert.Equal(t, 2, p2.Position)
	assert.Equal(t, 3, p3.Position)

	last := sink.LastPosition("pat-3")
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Position)
	assert.Greater(t, last.EstimatedWaitSec, 0)
}

func TestJoinTwiceFails(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Join("doc-1", "pat-1")
	require.NoError(t, err)

	_, err = m.Join("doc-1", "pat-1")
	assert.ErrorIs(t, err, core.ErrAlreadyQueued)
}

func TestJoinWhileInvitedFails(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Join("doc-1", "pat-1")
	require.NoError(t, err)

	_, err = m.PopHead("doc-1")
	require.NoError(t, err)

	_, err = m.Join("doc-1", "pat-1")
	assert.ErrorIs(t, err, core.ErrAlreadyQueued)

	// After the consultation terminates the pair may queue again.
	m.Release("doc-1", "pat-1")
	_, err = m.Join("doc-1", "pat-1")
	assert.NoError(t, err)
}

func TestConcurrentJoinSamePair(t *testing.T) {
	m, _ := newTestManager()

	const attempts = 32

	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Join("doc-1", "pat-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, refused int
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, core.ErrAlreadyQueued)
			refused++
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, refused)
}

func TestLeaveRecomputesPositions(t *testing.T) {
	m, sink := newTestManager()

	_, err := m.Join("doc-1", "pat-1")
	require.NoError(t, err)
	_, err = m.Join("doc-1", "pat-2")
	require.NoError(t, err)

	m.Leave("doc-1", "pat-1")

	waiting := m.Waiting("doc-1")
	require.Len(t, waiting, 1)
	assert.Equal(t, core.ParticipantID("pat-2"), waiting[0].PatientID)
	assert.Equal(t, 1, waiting[0].Position)

	last := sink.LastPosition("pat-2")
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Position)
}

func TestLeaveAfterInviteIsNoop(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Join("doc-1", "pat-1")
	require.NoError(t, err)

	entry, err := m.PopHead("doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.QueueInvited, entry.Status)

	// Leaving after the invitation went out must not cancel it.
	m.Leave("doc-1", "pat-1")
	assert.Equal(t, core.QueueInvited, entry.Status)
}

func TestPopHeadEmptyQueue(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.PopHead("doc-unknown")
	assert.ErrorIs(t, err, core.ErrEmptyQueue)

	_, err = m.Join("doc-1", "pat-1")
	require.NoError(t, err)
	_, err = m.PopHead("doc-1")
	require.NoError(t, err)

	_, err = m.PopHead("doc-1")
	assert.ErrorIs(t, err, core.ErrEmptyQueue)
}

func TestPopHeadIsFIFO(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Join("doc-1", "pat-1")
	require.NoError(t, err)
	_, err = m.Join("doc-1", "pat-2")
	require.NoError(t, err)

	entry, err := m.PopHead("doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.ParticipantID("pat-1"), entry.PatientID)

	head := m.PeekHead("doc-1")
	require.NotNil(t, head)
	assert.Equal(t, core.ParticipantID("pat-2"), head.PatientID)
	assert.Equal(t, 1, head.Position)
}

func TestTakeSpecificPatient(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Join("doc-1", "pat-1")
	require.NoError(t, err)
	_, err = m.Join("doc-1", "pat-2")
	require.NoError(t, err)

	entry := m.Take("doc-1", "pat-2")
	require.NotNil(t, entry)
	assert.Equal(t, core.QueueInvited, entry.Status)

	// pat-1 keeps the head slot.
	head := m.PeekHead("doc-1")
	require.NotNil(t, head)
	assert.Equal(t, core.ParticipantID("pat-1"), head.PatientID)
	assert.Equal(t, 1, head.Position)

	// A patient who never queued yields no entry.
	assert.Nil(t, m.Take("doc-1", "pat-99"))
}

func TestAdvanceIsIdempotent(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Join("doc-1", "pat-1")
	require.NoError(t, err)
	_, err = m.Join("doc-1", "pat-2")
	require.NoError(t, err)

	m.Advance("doc-1")
	m.Advance("doc-1")

	waiting := m.Waiting("doc-1")
	require.Len(t, waiting, 2)
	assert.Equal(t, 1, waiting[0].Position)
	assert.Equal(t, 2, waiting[1].Position)
}

func TestPositionsStayContiguous(t *testing.T) {
	m, _ := newTestManager()

	patients := []core.ParticipantID{"pat-1", "pat-2", "pat-3", "pat-4", "pat-5"}
	for _, p := range patients {
		_, err := m.Join("doc-1", p)
		require.NoError(t, err)
	}

	check := func() {
		waiting := m.Waiting("doc-1")
		for i, entry := range waiting {
			assert.Equal(t, i+1, entry.Position)
		}
	}

	check()
	m.Leave("doc-1", "pat-3")
	check()
	_, err := m.PopHead("doc-1")
	require.NoError(t, err)
	check()
	m.Leave("doc-1", "pat-5")
	check()
}

func TestRecordDurationShiftsEstimate(t *testing.T) {
	m, sink := newTestManager()

	m.RecordDuration(2 * time.Minute)
	m.RecordDuration(2 * time.Minute)

	_, err := m.Join("doc-1", "pat-1")
	require.NoError(t, err)

	last := sink.LastPosition("pat-1")
	require.NotNil(t, last)
	assert.Less(t, last.EstimatedWaitSec, int((10 * time.Minute).Seconds()))
}
