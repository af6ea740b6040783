package core

import (
	"database/sql"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	consultationsPageDefault    int = 1
	consultationsPerPageDefault int = 50
)

type ConsultationsDBStorer interface {
	Save(*Consultation) error
	MarkActive(id string) error
	Finish(id string, state ConsultationState, endedAt time.Time) error
	FindByID(id string) (*Consultation, error)
	ActiveByDoctor(doctorID ParticipantID) (*Consultation, error)
}

type ConsultationsLister interface {
	GetAll(page int, perPage int) (*ConsultationsPage, error)
}

type ConsultationsPage struct {
	Consultations []*Consultation
	TotalPages    int
}

type ConsultationsRepository struct {
	db *sqlx.DB
}

func NewConsultationsRepository(db *sqlx.DB) *ConsultationsRepository {
	return &ConsultationsRepository{
		db: db,
	}
}

func (r *ConsultationsRepository) Save(c *Consultation) error {
	_, err := r.db.Exec(
		`INSERT INTO consultations
			(id, doctor_id, patient_id, room_name, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO UPDATE
			SET state = EXCLUDED.state`,
		c.ID,
		string(c.DoctorID),
		string(c.PatientID),
		c.RoomName,
		string(c.State),
		c.CreatedAt,
	)
	return err
}

func (r *ConsultationsRepository) MarkActive(id string) error {
	_, err := r.db.Exec(
		`UPDATE consultations SET state = $1 WHERE id = $2`,
		string(ConsultationActive),
		id,
	)
	return err
}

func (r *ConsultationsRepository) Finish(id string, state ConsultationState, endedAt time.Time) error {
	_, err := r.db.Exec(
		`UPDATE consultations SET state = $1, ended_at = $2 WHERE id = $3 AND ended_at IS NULL`,
		string(state),
		endedAt,
		id,
	)
	return err
}

func (r *ConsultationsRepository) FindByID(id string) (*Consultation, error) {
	c := &Consultation{}

	err := r.db.Get(c, `SELECT * FROM consultations WHERE id = $1 LIMIT 1`, id)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// ActiveByDoctor returns the doctor's non-terminal consultation, or nil when
// there is none.
func (r *ConsultationsRepository) ActiveByDoctor(doctorID ParticipantID) (*Consultation, error) {
	c := &Consultation{}

	err := r.db.Get(c,
		`SELECT * FROM consultations
		WHERE doctor_id = $1 AND state IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`,
		string(doctorID),
		string(ConsultationInvited),
		string(ConsultationActive),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return c, nil
}

func (r *ConsultationsRepository) GetAll(page int, perPage int) (*ConsultationsPage, error) {
	// Anything below 1 would turn into a negative OFFSET.
	if page < 1 {
		page = consultationsPageDefault
	}
	if perPage < 1 {
		perPage = consultationsPerPageDefault
	}

	result := &ConsultationsPage{}

	var total int
	err := r.db.Get(&total, `SELECT COUNT(*) FROM consultations`)
	if err != nil {
		return nil, err
	}
	result.TotalPages = int(math.Ceil(float64(total) / float64(perPage)))

	consultations := []*Consultation{}
	err = r.db.Select(&consultations,
		`SELECT
			id,
			doctor_id,
			patient_id,
			room_name,
			state,
			created_at,
			ended_at
		FROM consultations
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, err
	}
	result.Consultations = consultations

	return result, nil
}
