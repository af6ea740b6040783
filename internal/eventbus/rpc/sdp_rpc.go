package rpc

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

type SDPParams struct {
	webrtc.SessionDescription
	Target SignalingTarget `json:"target"`
}

type SDPRpc struct {
	jsonRpcHead
	Params SDPParams `json:"params"`
}

func newSDPRpc(method Method, params SDPParams) *SDPRpc {
	return &SDPRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  method,
		},
		Params: params,
	}
}

func NewSDPOfferRpc(sdp *webrtc.SessionDescription, target SignalingTarget) *SDPRpc {
	return newSDPRpc(SDPOfferMethod, SDPParams{SessionDescription: *sdp, Target: target})
}

func NewSDPAnswerRpc(sdp *webrtc.SessionDescription, target SignalingTarget) *SDPRpc {
	return newSDPRpc(SDPAnswerMethod, SDPParams{SessionDescription: *sdp, Target: target})
}

func (r SDPRpc) GetMethod() Method {
	return r.Method
}

func (r SDPRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
