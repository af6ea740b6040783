package rpc

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

type ICECandidateParams struct {
	webrtc.ICECandidateInit
	Target SignalingTarget `json:"target"`
}

type ICECandidateRpc struct {
	jsonRpcHead
	Params ICECandidateParams `json:"params"`
}

func NewICECandidateRpc(params ICECandidateParams) *ICECandidateRpc {
	return &ICECandidateRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  ICECandidateMethod,
		},
		Params: params,
	}
}

func NewICECandidateInitRpc(candidate webrtc.ICECandidateInit, target SignalingTarget) *ICECandidateRpc {
	return NewICECandidateRpc(ICECandidateParams{ICECandidateInit: candidate, Target: target})
}

func (r ICECandidateRpc) GetMethod() Method {
	return r.Method
}

func (r ICECandidateRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
