package rpc

import "encoding/json"

type InviteNextParams struct {
	DoctorID string `json:"doctor_id"`
}

type InviteNextRpc struct {
	jsonRpcHead
	Params InviteNextParams `json:"params"`
}

func NewInviteNextRpc(params InviteNextParams) *InviteNextRpc {
	return &InviteNextRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  InviteNextMethod,
		},
		Params: params,
	}
}

func (r InviteNextRpc) GetMethod() Method {
	return r.Method
}

func (r InviteNextRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// InvitePatientParams is the directed invitation payload. Sent by a doctor to
// target a specific patient, and by the server to the invited patient's
// connection only, never broadcast.
type InvitePatientParams struct {
	ConsultationID string `json:"consultation_id,omitempty"`
	DoctorID       string `json:"doctor_id"`
	PatientID      string `json:"patient_id,omitempty"`
	RoomName       string `json:"room_name,omitempty"`
}

type InvitePatientRpc struct {
	jsonRpcHead
	Params InvitePatientParams `json:"params"`
}

func NewInvitePatientRpc(params InvitePatientParams) *InvitePatientRpc {
	return &InvitePatientRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  InvitePatientMethod,
		},
		Params: params,
	}
}

func (r InvitePatientRpc) GetMethod() Method {
	return r.Method
}

func (r InvitePatientRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type EndConsultationParams struct {
	ConsultationID string `json:"consultation_id"`
}

type EndConsultationRpc struct {
	jsonRpcHead
	Params EndConsultationParams `json:"params"`
}

func NewEndConsultationRpc(params EndConsultationParams) *EndConsultationRpc {
	return &EndConsultationRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  EndConsultationMethod,
		},
		Params: params,
	}
}

func (r EndConsultationRpc) GetMethod() Method {
	return r.Method
}

func (r EndConsultationRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type ConsultationEndedParams struct {
	ConsultationID string `json:"consultation_id"`
	// Reason distinguishes a deliberate hangup from an unexpected drop.
	Reason string `json:"reason,omitempty"`
}

type ConsultationEndedRpc struct {
	jsonRpcHead
	Params ConsultationEndedParams `json:"params"`
}

func NewConsultationEndedRpc(params ConsultationEndedParams) *ConsultationEndedRpc {
	return &ConsultationEndedRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  ConsultationEndedMethod,
		},
		Params: params,
	}
}

func (r ConsultationEndedRpc) GetMethod() Method {
	return r.Method
}

func (r ConsultationEndedRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
