package model

import json "github.com/goccy/go-json"

// 세션 레이어에서 주고받는 이벤트 이름.
const (
	EventIngest   = "pi_analysis_result"   // producer → server
	EventResult   = "new_result"           // server → observer
	EventReceived = "pi-analysis-received" // server → producer (ack)
)

// Role 은 연결의 역할.
type Role string

const (
	RoleProducer Role = "producer"
	RoleObserver Role = "observer"
)

// ParseRole 은 알 수 없는 값을 observer 로 취급한다.
func ParseRole(s string) Role {
	if Role(s) == RoleProducer {
		return RoleProducer
	}
	return RoleObserver
}

// Envelope 는 웹소켓 프레임 1개. {"event": "...", "data": ...}
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// InboundEnvelope 는 수신 프레임. data 는 이벤트별로 해석한다.
type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Ack 는 producer 에게 돌려주는 처리 결과.
type Ack struct {
	Success   bool   `json:"success"`
	CaptureID string `json:"capture_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}
