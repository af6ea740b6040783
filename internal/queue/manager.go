package queue

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/telemetry"
)

// Manager owns the canonical ordering of every doctor's wait list. All
// mutations of one doctor's queue run under that doctor's lock, which is
// what makes join/leave/pop impossible to interleave into a double
// invitation or a broken position ranking.
//
// The deque holds Waiting entries only. An invited patient leaves the queue
// at the moment of invitation and is tracked separately until their
// consultation terminates, so a re-join while Invited is still refused.
type Manager struct {
	sink      eventbus.Publisher
	estimator *waitEstimator

	lock   sync.RWMutex
	queues map[core.ParticipantID]*doctorQueue
}

type doctorQueue struct {
	lock    sync.Mutex
	waiting deque.Deque[*core.QueueEntry]
	invited map[core.ParticipantID]*core.QueueEntry
}

func NewManager(sink eventbus.Publisher, defaultDuration time.Duration) *Manager {
	return &Manager{
		sink:      sink,
		estimator: newWaitEstimator(defaultDuration),
		queues:    make(map[core.ParticipantID]*doctorQueue),
	}
}

// Join appends the patient to the tail of the doctor's queue and broadcasts
// fresh positions. Fails with core.ErrAlreadyQueued when a Waiting or
// Invited entry for the pair exists.
func (m *Manager) Join(doctorID, patientID core.ParticipantID) (*core.QueueEntry, error) {
	q := m.getOrCreate(doctorID)

	q.lock.Lock()
	defer q.lock.Unlock()

	if q.has(patientID) {
		return nil, core.ErrAlreadyQueued
	}

	entry := &core.QueueEntry{
		DoctorID:  doctorID,
		PatientID: patientID,
		JoinedAt:  time.Now(),
		Status:    core.QueueWaiting,
	}
	q.waiting.PushBack(entry)

	m.renumberLocked(doctorID, q)
	m.broadcastLocked(doctorID, q)

	return entry, nil
}

// Leave removes the patient's Waiting entry. Leaving after the invitation
// went out, or leaving without an entry, is a no-op: an in-flight session is
// never cancelled from the queue side.
func (m *Manager) Leave(doctorID, patientID core.ParticipantID) {
	q := m.get(doctorID)
	if q == nil {
		return
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	for i := 0; i < q.waiting.Len(); i++ {
		entry := q.waiting.At(i)
		if entry.PatientID != patientID {
			continue
		}

		entry.Status = core.QueueLeft
		q.waiting.Remove(i)
		m.renumberLocked(doctorID, q)
		m.broadcastLocked(doctorID, q)
		return
	}
}

// LeaveAll evicts the patient's Waiting entries from every doctor's queue.
// Called when the patient's connection drops.
func (m *Manager) LeaveAll(patientID core.ParticipantID) {
	m.lock.RLock()
	doctors := make([]core.ParticipantID, 0, len(m.queues))
	for doctorID := range m.queues {
		doctors = append(doctors, doctorID)
	}
	m.lock.RUnlock()

	for _, doctorID := range doctors {
		m.Leave(doctorID, patientID)
	}
}

// PeekHead returns the next Waiting entry without removing it, or nil.
func (m *Manager) PeekHead(doctorID core.ParticipantID) *core.QueueEntry {
	q := m.get(doctorID)
	if q == nil {
		return nil
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if q.waiting.Len() == 0 {
		return nil
	}

	return q.waiting.Front()
}

// PopHead atomically promotes the head entry to Invited and removes it from
// the wait list. Returns core.ErrEmptyQueue when nobody is waiting.
func (m *Manager) PopHead(doctorID core.ParticipantID) (*core.QueueEntry, error) {
	q := m.get(doctorID)
	if q == nil {
		return nil, core.ErrEmptyQueue
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if q.waiting.Len() == 0 {
		return nil, core.ErrEmptyQueue
	}

	entry := q.waiting.PopFront()
	entry.Status = core.QueueInvited
	q.invited[entry.PatientID] = entry

	m.renumberLocked(doctorID, q)
	m.broadcastLocked(doctorID, q)

	return entry, nil
}

// Take promotes a specific patient to Invited, bypassing FIFO order. Used
// for continuity invites (e.g. re-inviting after a dropped call). Returns
// the removed entry, or nil when the patient was not queued: a targeted
// invitation is still valid in that case, there is just no entry to evict.
func (m *Manager) Take(doctorID, patientID core.ParticipantID) *core.QueueEntry {
	q := m.get(doctorID)
	if q == nil {
		return nil
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	for i := 0; i < q.waiting.Len(); i++ {
		entry := q.waiting.At(i)
		if entry.PatientID != patientID {
			continue
		}

		q.waiting.Remove(i)
		entry.Status = core.QueueInvited
		q.invited[entry.PatientID] = entry

		m.renumberLocked(doctorID, q)
		m.broadcastLocked(doctorID, q)

		return entry
	}

	return nil
}

// Release forgets an invited patient once their consultation reached a
// terminal state, making the pair eligible to queue again.
func (m *Manager) Release(doctorID, patientID core.ParticipantID) {
	q := m.get(doctorID)
	if q == nil {
		return
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	delete(q.invited, patientID)
}

// Advance recomputes positions after a consultation terminated and
// rebroadcasts them. It removes nothing, so repeated calls are harmless.
func (m *Manager) Advance(doctorID core.ParticipantID) {
	q := m.get(doctorID)
	if q == nil {
		return
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	m.renumberLocked(doctorID, q)
	m.broadcastLocked(doctorID, q)
}

// Waiting returns a copy of the Waiting entries in queue order.
func (m *Manager) Waiting(doctorID core.ParticipantID) []core.QueueEntry {
	q := m.get(doctorID)
	if q == nil {
		return nil
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	entries := make([]core.QueueEntry, 0, q.waiting.Len())
	for i := 0; i < q.waiting.Len(); i++ {
		entries = append(entries, *q.waiting.At(i))
	}

	return entries
}

// RecordDuration feeds a completed consultation into the wait estimator.
func (m *Manager) RecordDuration(d time.Duration) {
	m.estimator.Record(d)
}

func (m *Manager) get(doctorID core.ParticipantID) *doctorQueue {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.queues[doctorID]
}

func (m *Manager) getOrCreate(doctorID core.ParticipantID) *doctorQueue {
	m.lock.Lock()
	defer m.lock.Unlock()

	q, ok := m.queues[doctorID]
	if !ok {
		q = &doctorQueue{
			invited: make(map[core.ParticipantID]*core.QueueEntry),
		}
		m.queues[doctorID] = q
	}

	return q
}

// renumberLocked restores the contiguous 1..N ranking over Waiting entries.
// The caller holds the doctor's lock.
func (m *Manager) renumberLocked(doctorID core.ParticipantID, q *doctorQueue) {
	for i := 0; i < q.waiting.Len(); i++ {
		entry := q.waiting.At(i)
		entry.Position = i + 1
		entry.EstimatedWait = m.estimator.Estimate(entry.Position)
	}

	telemetry.QueueDepth(string(doctorID), q.waiting.Len())
}

// broadcastLocked sends every Waiting patient their directed position update
// and tells the doctor the queue changed. Broadcast failures are logged and
// do not roll back the mutation; the client re-pulls on queue_changed.
func (m *Manager) broadcastLocked(doctorID core.ParticipantID, q *doctorQueue) {
	for i := 0; i < q.waiting.Len(); i++ {
		entry := q.waiting.At(i)
		position := rpc.NewQueuePositionRpc(rpc.QueuePositionParams{
			DoctorID:         string(doctorID),
			Position:         entry.Position,
			EstimatedWaitSec: int(entry.EstimatedWait / time.Second),
		})
		if err := m.sink.PublishClient(entry.PatientID, position); err != nil {
			log.Error().Err(err).Str("service", "queue").Str("patientID", string(entry.PatientID)).Msg("can't publish position update")
		}
	}

	if err := m.sink.PublishClient(doctorID, rpc.NewQueueChangedRpc()); err != nil {
		log.Error().Err(err).Str("service", "queue").Str("doctorID", string(doctorID)).Msg("can't publish queue_changed")
	}
}

func (q *doctorQueue) has(patientID core.ParticipantID) bool {
	if _, ok := q.invited[patientID]; ok {
		return true
	}

	for i := 0; i < q.waiting.Len(); i++ {
		if q.waiting.At(i).PatientID == patientID {
			return true
		}
	}

	return false
}
