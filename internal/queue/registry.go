package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/vidmed/consultd/internal/core"
)

// Registry tracks each doctor's online flag. Last write wins; there is no
// acknowledgement and no retry queue. Entries are created on the first
// signal from a doctor and never deleted, only reset to offline.
type Registry struct {
	lock    sync.RWMutex
	doctors map[core.ParticipantID]*core.DoctorAvailability
}

func NewRegistry() *Registry {
	return &Registry{
		doctors: make(map[core.ParticipantID]*core.DoctorAvailability),
	}
}

// SetAvailability is idempotent: repeated identical toggles have no effect.
// Returns true when the flag actually changed.
func (r *Registry) SetAvailability(doctorID core.ParticipantID, isOnline bool) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	d, ok := r.doctors[doctorID]
	if !ok {
		d = &core.DoctorAvailability{DoctorID: doctorID}
		r.doctors[doctorID] = d
	} else if d.IsOnline == isOnline {
		return false
	}

	d.IsOnline = isOnline
	d.UpdatedAt = time.Now()

	return true
}

// MarkOffline resets an existing doctor's flag on disconnect. Unlike
// SetAvailability it never creates an entry, so patient disconnects don't
// pollute the registry. Returns true when a doctor actually went offline.
func (r *Registry) MarkOffline(doctorID core.ParticipantID) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	d, ok := r.doctors[doctorID]
	if !ok || !d.IsOnline {
		return false
	}

	d.IsOnline = false
	d.UpdatedAt = time.Now()

	return true
}

// IsOnline reports the last-seen availability of the doctor.
func (r *Registry) IsOnline(doctorID core.ParticipantID) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	d, ok := r.doctors[doctorID]

	return ok && d.IsOnline
}

// Snapshot returns the current availability of every known doctor, ordered
// by doctor ID for stable listing.
func (r *Registry) Snapshot() []core.DoctorAvailability {
	r.lock.RLock()
	defer r.lock.RUnlock()

	all := make([]core.DoctorAvailability, 0, len(r.doctors))
	for _, d := range r.doctors {
		all = append(all, *d)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].DoctorID < all[j].DoctorID
	})

	return all
}
