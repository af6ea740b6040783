package eventbus

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
)

var (
	errConvertJoinQueue    = errors.New("can't convert to join_queue rpc")
	errConvertLeaveQueue   = errors.New("can't convert to leave_queue rpc")
	errConvertAvailability = errors.New("can't convert to switch_availability rpc")
	errConvertInvite       = errors.New("can't convert to invite rpc")
	errConvertEnd          = errors.New("can't convert to end_consultation rpc")
	errConvertOffer        = errors.New("can't convert to offer rpc")
	errConvertAnswer       = errors.New("can't convert to answer rpc")
	errConvertIceCandidate = errors.New("can't convert to ice candidate rpc")
	errConvertJoinRoom     = errors.New("can't convert to join_doctor_room rpc")
	errUndefinedMethod     = errors.New("undefined method")
)

// Router subscribes to the server channel and dispatches RPCs to the
// callbacks the orchestrator registered. One handler per method, registered
// once; unknown methods are logged and skipped.
type Router struct {
	EventsSubscriber Subscriber
	subscription     Bus

	stop    chan struct{}
	stopped chan struct{}

	onJoinDoctorRoom     func(core.ParticipantID, rpc.JoinDoctorRoomParams) error
	onJoinQueue          func(core.ParticipantID, rpc.JoinQueueParams) error
	onLeaveQueue         func(core.ParticipantID, rpc.LeaveQueueParams) error
	onSwitchAvailability func(core.ParticipantID, rpc.SwitchAvailabilityParams) error
	onInviteNext         func(core.ParticipantID, rpc.InviteNextParams) error
	onInvitePatient      func(core.ParticipantID, rpc.InvitePatientParams) error
	onEndConsultation    func(core.ParticipantID, rpc.EndConsultationParams) error
	onOffer              func(core.ParticipantID, rpc.SDPParams) error
	onAnswer             func(core.ParticipantID, rpc.SDPParams) error
	onAddICECandidate    func(core.ParticipantID, rpc.ICECandidateParams) error
}

func NewRouter(sub Subscriber) (*Router, error) {
	router := &Router{
		EventsSubscriber: sub,
		stop:             make(chan struct{}),
		stopped:          make(chan struct{}),
	}
	subscription, err := router.EventsSubscriber.SubscribeServer()
	if err != nil {
		return nil, err
	}
	router.subscription = subscription

	return router, nil
}

// Start launches the dispatch loop. The returned channel closes once the
// loop is consuming messages.
func (router *Router) Start() <-chan struct{} {
	log.Debug().Str("service", "router").Msg("start")

	ready := make(chan struct{})

	go func() {
		channel := router.subscription.Channel()
		close(ready)

		for {
			select {
			case <-router.stop:
				close(router.stopped)
				return
			case msg, ok := <-channel:
				if !ok {
					close(router.stopped)
					return
				}
				router.dispatch(msg.Payload)
			}
		}
	}()

	return ready
}

// Stop closes the subscription and waits for the dispatch loop to exit.
func (router *Router) Stop() <-chan struct{} {
	if err := router.subscription.Close(); err != nil {
		log.Error().Err(err).Str("service", "router").Msg("can't close subscription")
	}
	close(router.stop)

	return router.stopped
}

func (router *Router) dispatch(payload string) {
	userID, r, err := parseRpc(payload)
	if err != nil {
		log.Error().Err(err).Str("service", "router").Msg("")
		return
	}

	switch r.GetMethod() {
	case rpc.JoinDoctorRoomMethod:
		msg, ok := r.(*rpc.JoinDoctorRoomRpc)
		if !ok {
			log.Error().Err(errConvertJoinRoom).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "join doctor room", func() error {
			return router.onJoinDoctorRoom(userID, msg.Params)
		})
	case rpc.JoinQueueMethod:
		msg, ok := r.(*rpc.JoinQueueRpc)
		if !ok {
			log.Error().Err(errConvertJoinQueue).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "join queue", func() error {
			return router.onJoinQueue(userID, msg.Params)
		})
	case rpc.LeaveQueueMethod:
		msg, ok := r.(*rpc.LeaveQueueRpc)
		if !ok {
			log.Error().Err(errConvertLeaveQueue).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "leave queue", func() error {
			return router.onLeaveQueue(userID, msg.Params)
		})
	case rpc.SwitchAvailabilityMethod:
		msg, ok := r.(*rpc.SwitchAvailabilityRpc)
		if !ok {
			log.Error().Err(errConvertAvailability).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "switch availability", func() error {
			return router.onSwitchAvailability(userID, msg.Params)
		})
	case rpc.InviteNextMethod:
		msg, ok := r.(*rpc.InviteNextRpc)
		if !ok {
			log.Error().Err(errConvertInvite).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "invite next", func() error {
			return router.onInviteNext(userID, msg.Params)
		})
	case rpc.InvitePatientMethod:
		msg, ok := r.(*rpc.InvitePatientRpc)
		if !ok {
			log.Error().Err(errConvertInvite).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "invite patient", func() error {
			return router.onInvitePatient(userID, msg.Params)
		})
	case rpc.EndConsultationMethod:
		msg, ok := r.(*rpc.EndConsultationRpc)
		if !ok {
			log.Error().Err(errConvertEnd).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "end consultation", func() error {
			return router.onEndConsultation(userID, msg.Params)
		})
	case rpc.SDPOfferMethod:
		msg, ok := r.(*rpc.SDPRpc)
		if !ok {
			log.Error().Err(errConvertOffer).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "offer", func() error {
			return router.onOffer(userID, msg.Params)
		})
	case rpc.SDPAnswerMethod:
		msg, ok := r.(*rpc.SDPRpc)
		if !ok {
			log.Error().Err(errConvertAnswer).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "answer", func() error {
			return router.onAnswer(userID, msg.Params)
		})
	case rpc.ICECandidateMethod:
		msg, ok := r.(*rpc.ICECandidateRpc)
		if !ok {
			log.Error().Err(errConvertIceCandidate).Str("service", "router").Msg("")
			return
		}

		router.callback(userID, "ice candidate", func() error {
			return router.onAddICECandidate(userID, msg.Params)
		})
	default:
		log.Error().Err(errUndefinedMethod).Str("rpcMethod", string(r.GetMethod())).Str("service", "router").Msg("")
	}
}

func (router *Router) callback(userID core.ParticipantID, op string, fn func() error) {
	if err := fn(); err != nil {
		log.Error().Err(err).Str("service", "router").Str("userID", string(userID)).Msgf("error occured in %s", op)
	}
}

func parseRpc(payload string) (core.ParticipantID, rpc.Rpc, error) {
	serverMessage := &ServerMessage{}
	if err := json.Unmarshal([]byte(payload), serverMessage); err != nil {
		return "", nil, err
	}

	if serverMessage.UserID == "" {
		return "", nil, errors.New("can't get user id")
	}

	reader := bytes.NewReader(serverMessage.Message)
	r, err := rpc.RpcFromReader(reader)
	if err != nil {
		return "", nil, err
	}

	return serverMessage.UserID, r, nil
}

func (router *Router) OnJoinDoctorRoom(callback func(core.ParticipantID, rpc.JoinDoctorRoomParams) error) {
	router.onJoinDoctorRoom = callback
}

func (router *Router) OnJoinQueue(callback func(core.ParticipantID, rpc.JoinQueueParams) error) {
	router.onJoinQueue = callback
}

func (router *Router) OnLeaveQueue(callback func(core.ParticipantID, rpc.LeaveQueueParams) error) {
	router.onLeaveQueue = callback
}

func (router *Router) OnSwitchAvailability(callback func(core.ParticipantID, rpc.SwitchAvailabilityParams) error) {
	router.onSwitchAvailability = callback
}

func (router *Router) OnInviteNext(callback func(core.ParticipantID, rpc.InviteNextParams) error) {
	router.onInviteNext = callback
}

func (router *Router) OnInvitePatient(callback func(core.ParticipantID, rpc.InvitePatientParams) error) {
	router.onInvitePatient = callback
}

func (router *Router) OnEndConsultation(callback func(core.ParticipantID, rpc.EndConsultationParams) error) {
	router.onEndConsultation = callback
}

func (router *Router) OnOffer(callback func(core.ParticipantID, rpc.SDPParams) error) {
	router.onOffer = callback
}

func (router *Router) OnAnswer(callback func(core.ParticipantID, rpc.SDPParams) error) {
	router.onAnswer = callback
}

func (router *Router) OnAddICECandidate(callback func(core.ParticipantID, rpc.ICECandidateParams) error) {
	router.onAddICECandidate = callback
}
