package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/queue"
)

// DoctorStatus is one row of the patient-facing doctor list.
type DoctorStatus struct {
	DoctorID   string    `json:"doctor_id"`
	IsOnline   bool      `json:"is_online"`
	UpdatedAt  time.Time `json:"updated_at"`
	QueueDepth int       `json:"queue_depth"`
}

// DoctorsHandler returns the availability snapshot with queue depths. This
// is also what clients re-pull after a queue_changed notification: the
// server view wins over any locally derived state.
func DoctorsHandler(registry *queue.Registry, queues *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := registry.Snapshot()

		doctors := make([]DoctorStatus, 0, len(snapshot))
		for _, d := range snapshot {
			doctors = append(doctors, DoctorStatus{
				DoctorID:   string(d.DoctorID),
				IsOnline:   d.IsOnline,
				UpdatedAt:  d.UpdatedAt,
				QueueDepth: len(queues.Waiting(d.DoctorID)),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doctors); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't encode doctors")
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}
