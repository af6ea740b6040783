package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmed/consultd/internal/core"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTTokens([]byte("test-secret"))

	token, err := svc.RequestToken(context.Background(), "pat-1", "c-42")
	require.NoError(t, err)

	identity, err := svc.Verify(token, "c-42")
	require.NoError(t, err)
	assert.Equal(t, core.ParticipantID("pat-1"), identity)
}

func TestTokenWrongRoom(t *testing.T) {
	svc := NewJWTTokens([]byte("test-secret"))

	token, err := svc.RequestToken(context.Background(), "pat-1", "c-42")
	require.NoError(t, err)

	_, err = svc.Verify(token, "c-43")
	assert.ErrorIs(t, err, core.ErrToken)
}

func TestTokenCancelledContext(t *testing.T) {
	svc := NewJWTTokens([]byte("test-secret"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.RequestToken(ctx, "pat-1", "c-42")
	assert.ErrorIs(t, err, core.ErrToken)
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := NewJWTTokens([]byte("secret-a"))
	verifier := NewJWTTokens([]byte("secret-b"))

	token, err := issuer.RequestToken(context.Background(), "pat-1", "c-42")
	require.NoError(t, err)

	_, err = verifier.Verify(token, "c-42")
	assert.ErrorIs(t, err, core.ErrToken)
}
