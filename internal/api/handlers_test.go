package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/media"
	"github.com/vidmed/consultd/internal/queue"
)

type discardPublisher struct{}

func (discardPublisher) PublishClient(id core.ParticipantID, r rpc.Rpc) error { return nil }

func (discardPublisher) PublishServer(id core.ParticipantID, r rpc.Rpc) error { return nil }

func stubAuth(uid string) AuthHandler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), UserIDContextKey, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newMockUserDB(t *testing.T, uid, id string) *sqlx.DB {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rows := sqlmock.NewRows([]string{"id", "uid", "name", "role", "created_at"}).
		AddRow(id, uid, "Test User", "patient", time.Now())
	mock.ExpectQuery("SELECT \\* FROM users WHERE uid").WithArgs(uid).WillReturnRows(rows)

	return sqlx.NewDb(db, "sqlmock")
}

func TestDoctorsHandler(t *testing.T) {
	registry := queue.NewRegistry()
	queues := queue.NewManager(&discardPublisher{}, 10*time.Minute)

	registry.SetAvailability("doctor-1", true)
	registry.SetAvailability("doctor-2", false)
	_, err := queues.Join("doctor-1", "patient-1")
	require.NoError(t, err)
	_, err = queues.Join("doctor-1", "patient-2")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/doctors", nil)
	w := httptest.NewRecorder()

	DoctorsHandler(registry, queues)(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var doctors []DoctorStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&doctors))
	require.Len(t, doctors, 2)
	assert.Equal(t, "doctor-1", doctors[0].DoctorID)
	assert.True(t, doctors[0].IsOnline)
	assert.Equal(t, 2, doctors[0].QueueDepth)
	assert.Equal(t, "doctor-2", doctors[1].DoctorID)
	assert.False(t, doctors[1].IsOnline)
	assert.Equal(t, 0, doctors[1].QueueDepth)
}

func TestTokensHandler(t *testing.T) {
	db := newMockUserDB(t, "uid-42", "patient-1")
	tokens := media.NewJWTTokens([]byte("test-secret"))

	r := chi.NewRouter()
	r.With(stubAuth("uid-42")).Post("/api/v1/tokens", TokensHandler(tokens, db))

	body := strings.NewReader(`{"room_name":"c-room-1"}`)
	req := httptest.NewRequest("POST", "/api/v1/tokens", body)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)

	// the granted token is scoped to the requested room
	identity, err := tokens.Verify(resp.Token, "c-room-1")
	require.NoError(t, err)
	assert.Equal(t, core.ParticipantID("patient-1"), identity)

	_, err = tokens.Verify(resp.Token, "c-other")
	require.Error(t, err)
}

func TestTokensHandlerRejectsEmptyRoom(t *testing.T) {
	db := newMockUserDB(t, "uid-42", "patient-1")
	tokens := media.NewJWTTokens([]byte("test-secret"))

	r := chi.NewRouter()
	r.With(stubAuth("uid-42")).Post("/api/v1/tokens", TokensHandler(tokens, db))

	req := httptest.NewRequest("POST", "/api/v1/tokens", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFirebaseAuthenticatorRejectsMissingToken(t *testing.T) {
	r := chi.NewRouter()

	auth := NewFirebaseAuth()
	auth.Addr = "localhost:50053"
	r.Use(auth.Middleware())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
