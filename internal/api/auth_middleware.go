package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	firebase "github.com/isqad/firebase-auth-service/pkg/service"
	"google.golang.org/grpc"
)

type ctxKey string

// UserIDContextKey is used for extract uid from request context
const UserIDContextKey ctxKey = "userID"

// AuthFailFunc is called when authentication failed.
type AuthFailFunc func(w http.ResponseWriter, r *http.Request, err error)

// AuthHandler is the middleware shape; tests swap in a stub.
type AuthHandler func(next http.Handler) http.Handler

var (
	xAuth             = http.CanonicalHeaderKey("X-Auth")
	ErrEmptyAuthToken = errors.New("empty auth token")
)

// FirebaseAuth verifies the X-Auth token against the firebase auth service
// over grpc and puts the resolved uid into the request context.
type FirebaseAuth struct {
	Addr         string
	AuthFailFunc AuthFailFunc
	StubHandler  AuthHandler
}

func NewFirebaseAuth() *FirebaseAuth {
	return &FirebaseAuth{}
}

func (m *FirebaseAuth) Middleware() AuthHandler {
	if m.StubHandler != nil {
		return m.StubHandler
	}

	return m.defaultMiddleware()
}

func (m *FirebaseAuth) defaultMiddleware() AuthHandler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(xAuth)
			if token == "" {
				m.authFailed(w, r, ErrEmptyAuthToken)
				return
			}

			conn, err := grpc.Dial(m.Addr, []grpc.DialOption{
				grpc.WithInsecure(),
				grpc.WithBlock(),
			}...)
			if err != nil {
				m.authFailed(w, r, err)
				return
			}
			defer conn.Close()

			authClient := firebase.NewAuthClient(conn)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			t, err := authClient.Verify(ctx, &firebase.Token{Token: token})
			if err != nil {
				m.authFailed(w, r, err)
				return
			}

			ctx = context.WithValue(r.Context(), UserIDContextKey, t.UserId)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *FirebaseAuth) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	if m.AuthFailFunc != nil {
		m.AuthFailFunc(w, r, err)
		return
	}

	w.WriteHeader(http.StatusUnauthorized)
}

// extractUserID returns the authenticated uid from the request context.
func extractUserID(r *http.Request) (string, error) {
	userID, ok := r.Context().Value(UserIDContextKey).(string)
	if !ok {
		return "", errors.New("can't get user ID from request context")
	}

	return userID, nil
}
