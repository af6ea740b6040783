package media

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/vidmed/consultd/internal/core"
)

const defaultTokenTTL = 5 * time.Minute

// AccessClaims scope a token to one identity in one room.
type AccessClaims struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
	jwt.RegisteredClaims
}

// JWTTokens issues and verifies the short-lived room access tokens. It
// implements TokenService in-process; a deployment fronting an external
// token service swaps this for an HTTP client behind the same interface.
type JWTTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTTokens(secret []byte) *JWTTokens {
	return &JWTTokens{
		secret: secret,
		ttl:    defaultTokenTTL,
	}
}

func (t *JWTTokens) RequestToken(ctx context.Context, identity core.ParticipantID, roomName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrToken, err)
	}

	now := time.Now()
	claims := &AccessClaims{
		Identity: string(identity),
		Room:     roomName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrToken, err)
	}

	return signed, nil
}

// Verify parses the token and checks it grants access to roomName.
func (t *JWTTokens) Verify(tokenStr string, roomName string) (core.ParticipantID, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrToken, err)
	}

	if claims.Room != roomName {
		return "", fmt.Errorf("%w: token not scoped to room %s", core.ErrToken, roomName)
	}

	return core.ParticipantID(claims.Identity), nil
}
