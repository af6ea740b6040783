package rpc

import (
	"encoding/json"
	"errors"
	"io"
)

const jsonRpcVersion = "2.0"

type Method string

const (
	// Client -> server
	JoinDoctorRoomMethod     Method = "join_doctor_room"
	JoinQueueMethod          Method = "join_queue"
	LeaveQueueMethod         Method = "leave_queue"
	SwitchAvailabilityMethod Method = "switch_availability"
	InviteNextMethod         Method = "invite_next"
	InvitePatientMethod      Method = "invite_patient"
	EndConsultationMethod    Method = "end_consultation"
	SDPOfferMethod           Method = "offer"
	SDPAnswerMethod          Method = "answer"
	ICECandidateMethod       Method = "ice_candidate"

	// Server -> client
	QueuePositionMethod     Method = "queue_position"
	QueueChangedMethod      Method = "queue_changed"
	ConsultationEndedMethod Method = "consultation_ended"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

type Rpc interface {
	GetMethod() Method
	ToJSON() ([]byte, error)
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Method `json:"method"`
}

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

// SignalingTarget tells which peer connection leg an SDP or candidate is for.
type SignalingTarget string

const (
	Publisher SignalingTarget = "publisher"
	Receiver  SignalingTarget = "receiver"
)

func RpcFromReader(reader io.Reader) (Rpc, error) {
	rpc := &jsonRpc{}

	err := json.NewDecoder(reader).Decode(rpc)
	if err != nil {
		return nil, err
	}

	params := []byte(rpc.Params)
	if len(params) == 0 {
		params = []byte("null")
	}

	switch rpc.Method {
	case JoinDoctorRoomMethod:
		p := JoinDoctorRoomParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewJoinDoctorRoomRpc(p), nil
	case JoinQueueMethod:
		p := JoinQueueParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewJoinQueueRpc(p), nil
	case LeaveQueueMethod:
		p := LeaveQueueParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewLeaveQueueRpc(p), nil
	case SwitchAvailabilityMethod:
		p := SwitchAvailabilityParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewSwitchAvailabilityRpc(p), nil
	case InviteNextMethod:
		p := InviteNextParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewInviteNextRpc(p), nil
	case InvitePatientMethod:
		p := InvitePatientParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewInvitePatientRpc(p), nil
	case EndConsultationMethod:
		p := EndConsultationParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewEndConsultationRpc(p), nil
	case SDPOfferMethod, SDPAnswerMethod:
		p := SDPParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return newSDPRpc(rpc.Method, p), nil
	case ICECandidateMethod:
		p := ICECandidateParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewICECandidateRpc(p), nil
	case QueuePositionMethod:
		p := QueuePositionParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewQueuePositionRpc(p), nil
	case QueueChangedMethod:
		return NewQueueChangedRpc(), nil
	case ConsultationEndedMethod:
		p := ConsultationEndedParams{}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		return NewConsultationEndedRpc(p), nil
	default:
		return nil, ErrUnknownRpcType
	}
}
