package rpc

import "encoding/json"

type JoinDoctorRoomParams struct {
	DoctorID string `json:"doctor_id"`
}

type JoinDoctorRoomRpc struct {
	jsonRpcHead
	Params JoinDoctorRoomParams `json:"params"`
}

func NewJoinDoctorRoomRpc(params JoinDoctorRoomParams) *JoinDoctorRoomRpc {
	return &JoinDoctorRoomRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  JoinDoctorRoomMethod,
		},
		Params: params,
	}
}

func (r JoinDoctorRoomRpc) GetMethod() Method {
	return r.Method
}

func (r JoinDoctorRoomRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type JoinQueueParams struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	RoomName  string `json:"room_name,omitempty"`
}

type JoinQueueRpc struct {
	jsonRpcHead
	Params JoinQueueParams `json:"params"`
}

func NewJoinQueueRpc(params JoinQueueParams) *JoinQueueRpc {
	return &JoinQueueRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  JoinQueueMethod,
		},
		Params: params,
	}
}

func (r JoinQueueRpc) GetMethod() Method {
	return r.Method
}

func (r JoinQueueRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type LeaveQueueParams struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
}

type LeaveQueueRpc struct {
	jsonRpcHead
	Params LeaveQueueParams `json:"params"`
}

func NewLeaveQueueRpc(params LeaveQueueParams) *LeaveQueueRpc {
	return &LeaveQueueRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  LeaveQueueMethod,
		},
		Params: params,
	}
}

func (r LeaveQueueRpc) GetMethod() Method {
	return r.Method
}

func (r LeaveQueueRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type SwitchAvailabilityParams struct {
	DoctorID    string `json:"doctor_id"`
	IsAvailable bool   `json:"is_available"`
}

type SwitchAvailabilityRpc struct {
	jsonRpcHead
	Params SwitchAvailabilityParams `json:"params"`
}

func NewSwitchAvailabilityRpc(params SwitchAvailabilityParams) *SwitchAvailabilityRpc {
	return &SwitchAvailabilityRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  SwitchAvailabilityMethod,
		},
		Params: params,
	}
}

func (r SwitchAvailabilityRpc) GetMethod() Method {
	return r.Method
}

func (r SwitchAvailabilityRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type QueuePositionParams struct {
	DoctorID string `json:"doctor_id"`
	Position int    `json:"position"`
	// EstimatedWaitSec is advisory only.
	EstimatedWaitSec int `json:"estimated_wait_sec"`
}

type QueuePositionRpc struct {
	jsonRpcHead
	Params QueuePositionParams `json:"params"`
}

func NewQueuePositionRpc(params QueuePositionParams) *QueuePositionRpc {
	return &QueuePositionRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  QueuePositionMethod,
		},
		Params: params,
	}
}

func (r QueuePositionRpc) GetMethod() Method {
	return r.Method
}

func (r QueuePositionRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// QueueChangedRpc tells a client to discard its local queue view and re-pull
// the authoritative state.
type QueueChangedRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewQueueChangedRpc() *QueueChangedRpc {
	return &QueueChangedRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  QueueChangedMethod,
		},
		Params: nil,
	}
}

func (r QueueChangedRpc) GetMethod() Method {
	return r.Method
}

func (r QueueChangedRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
