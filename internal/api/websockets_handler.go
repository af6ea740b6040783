package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/isqad/melody"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/consult"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
)

const (
	wsSubscriptionSessionKey = "subscription"
	wsUserIDSessionKey       = "userId"
)

// WebsocketsHandler upgrades the request and binds the melody session to the
// user's directed redis channel.
func WebsocketsHandler(
	eventsSubscriber eventbus.Subscriber,
	db *sqlx.DB,
	websocket *melody.Melody,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromRequest(db, r)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't get the user from request context")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		subscription, err := eventsSubscriber.SubscribeClient(core.ParticipantID(user.ID))
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't subscribe the user to signaling channel")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		sessKeys := make(map[string]interface{})
		sessKeys[wsUserIDSessionKey] = core.ParticipantID(user.ID)
		sessKeys[wsSubscriptionSessionKey] = subscription

		if err := websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't handle request")
		}
	}
}

// ConnectHandler pumps the user's directed channel into the websocket.
func ConnectHandler(session *melody.Session) {
	subscription, err := getUserSubscription(session)
	if err != nil {
		log.Error().Err(err).Str("service", "websockets").Msg("extract subscription")
		closeWsSession(session)
		return
	}

	go func() {
		ch := subscription.Channel()

		for msg := range ch {
			if err := session.Write([]byte(msg.Payload)); err != nil {
				// there's only session closed error can be
				log.Error().Err(err).Str("service", "websockets").Msg("")
				return
			}
		}
	}()
}

// DisconnectHandler closes the directed subscription and lets the
// orchestrator react: doctors go offline, waiting patients are evicted and
// live consultations end.
func DisconnectHandler(orchestrator *consult.Orchestrator) func(session *melody.Session) {
	return func(session *melody.Session) {
		defer closeWsSession(session)

		userID, err := getUserIDFromSession(session)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract userID")
			return
		}

		subscription, err := getUserSubscription(session)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract subscription")
			return
		}
		if err := subscription.Close(); err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("close subscription")
		}

		if orchestrator != nil {
			orchestrator.Disconnected(userID)
		}
	}
}

// HandleMessage forwards well-formed client RPCs to the server channel.
func HandleMessage(eventsPublisher eventbus.Publisher) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		userID, err := getUserIDFromSession(s)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract userID")
			closeWsSession(s)
			return
		}

		reader := bytes.NewReader(msg)
		r, err := rpc.RpcFromReader(reader)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Str("userID", string(userID)).Msg("rpc parse error")
			return
		}

		if err := eventsPublisher.PublishServer(userID, r); err != nil {
			log.Error().Err(err).Str("service", "websockets").Str("userID", string(userID)).Msg("publish server rpc")
		}
	}
}

func getUserSubscription(s *melody.Session) (eventbus.Bus, error) {
	userSub, ok := s.Keys[wsSubscriptionSessionKey]
	if !ok {
		return nil, fmt.Errorf("no subscription for given session")
	}
	subscription, ok := userSub.(eventbus.Bus)
	if !ok {
		return nil, fmt.Errorf("can't convert subscription: %+v", userSub)
	}
	return subscription, nil
}

func getUserIDFromSession(s *melody.Session) (core.ParticipantID, error) {
	userID, ok := s.Keys[wsUserIDSessionKey]
	if !ok {
		return "", fmt.Errorf("no user for given session")
	}
	id, ok := userID.(core.ParticipantID)
	if !ok {
		return "", fmt.Errorf("can't convert userID: %+v", userID)
	}
	return id, nil
}

func closeWsSession(s *melody.Session) {
	if err := s.Close(); err != nil {
		log.Error().Err(err).Str("service", "websockets").Msg("close ws session")
	}
}
