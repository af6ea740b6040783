package api

import (
	"encoding/json"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/media"
	"github.com/vidmed/consultd/internal/telemetry"
)

type TokenRequest struct {
	RoomName string `json:"room_name"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// TokensHandler grants a short-lived media token scoped to the requested
// room for the authenticated identity.
func TokensHandler(tokens media.TokenService, db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromRequest(db, r)
		if err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't get the user from request context")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		req := &TokenRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil || req.RoomName == "" {
			log.Error().Err(err).Str("service", "api").Msg("bad token request")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		token, err := tokens.RequestToken(r.Context(), core.ParticipantID(user.ID), req.RoomName)
		if err != nil {
			telemetry.ServiceOperationCounter.WithLabelValues("token_grant", "error", "token_service").Add(1)
			log.Error().Err(err).Str("service", "api").Str("userID", user.ID).Msg("can't grant token")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		telemetry.ServiceOperationCounter.WithLabelValues("token_grant", "success", "").Add(1)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(TokenResponse{Token: token}); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("")
		}
	}
}
