package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmed/consultd/internal/core"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestRecordPersistsEvent(t *testing.T) {
	db, mock := newMockDB(t)
	daemon := &Daemon{db: db}

	endedAt := time.Now()
	message := Message{
		Event:          EventFinished,
		ConsultationID: "consultation-1",
		DoctorID:       "doctor-1",
		PatientID:      "patient-1",
		RoomName:       "c-consultation-1",
		State:          core.ConsultationEnded,
		CreatedAt:      endedAt.Add(-10 * time.Minute),
		EndedAt:        &endedAt,
	}
	payload, err := json.Marshal(message)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO consultation_audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = daemon.record(&nats.Msg{Subject: SubscriptionSubject, Data: payload})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRejectsMalformedPayload(t *testing.T) {
	db, mock := newMockDB(t)
	daemon := &Daemon{db: db}

	err := daemon.record(&nats.Msg{Subject: SubscriptionSubject, Data: []byte("{broken")})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
