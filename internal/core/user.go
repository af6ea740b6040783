package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// User is an account known to the auth service. The role tells whether the
// account acts as a doctor or a patient on the signaling channel.
type User struct {
	ID        string          `json:"id,omitempty" db:"id"`
	UID       string          `json:"uid" db:"uid"`
	Name      string          `json:"name" db:"name"`
	Role      ParticipantRole `json:"role" db:"role"`
	CreatedAt time.Time       `json:"-" db:"created_at"`
}

func NewUser() *User {
	return &User{ID: uuid.NewString(), Role: RolePatient}
}

func FindUserByUID(db *sqlx.DB, uid string) (*User, error) {
	user := &User{}

	err := db.Get(user, `SELECT * FROM users WHERE uid = $1 LIMIT 1`, uid)
	if err != nil {
		return nil, err
	}

	return user, nil
}

// Save upserts the user by its auth UID.
func (u *User) Save(db *sqlx.DB) error {
	var id string
	err := db.Get(&id,
		`INSERT INTO users (id, uid, name, role, created_at) VALUES ($1, $2, $3, $4, NOW())
		  ON CONFLICT ON CONSTRAINT uniq_users_uid DO UPDATE
		  SET
			name = EXCLUDED.name,
			role = EXCLUDED.role
		  RETURNING id`,
		u.ID,
		u.UID,
		u.Name,
		string(u.Role),
	)
	if err != nil {
		return err
	}
	u.ID = id

	return nil
}
