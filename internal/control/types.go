// Package control implements the node-side SMS control client (spec.md
// §3 "Node record"/"Task descriptor", §4.8, §6.3): registration, heartbeat,
// task descriptor polling, and status reporting. The server side is out of
// scope; only the boundary this node speaks across is implemented here.
package control

import (
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// NodeRecord is consumed from SMS (spec.md §3).
type NodeRecord struct {
	UUID            string
	Name            string
	IP              string
	Port            int
	Status          string
	LastHeartbeat   time.Time
	RegisteredAt    time.Time
	ResourceMetrics map[string]float64
}

// TaskDescriptor is consumed from SMS (spec.md §3): names an executable by
// (type, uri|name, checksum) per spec.md §6.3(b).
type TaskDescriptor struct {
	TaskID         int64
	Name           string
	ExecutableType string // "wasm" | "process" | "docker"
	ExecutableName string
	ExecutableURI  string
	Checksum       string
	Args           []string
	Env            map[string]string
	Capabilities   []string
	Priority       int
	NodeUUID       string
	Endpoint       string
	Version        string
}

// registerRequest/registerResponse and friends are the plain Go structs
// carried over gRPC via the json codec (see codec.go) — this node's SMS
// client does not depend on a compiled .proto service definition.
type registerRequest struct {
	UUID         string                 `json:"uuid"`
	Name         string                 `json:"name"`
	IP           string                 `json:"ip"`
	Port         int                    `json:"port"`
	Capabilities []string               `json:"capabilities"`
	RegisteredAt *timestamppb.Timestamp `json:"registered_at"`
}

type registerResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type heartbeatRequest struct {
	UUID            string                 `json:"uuid"`
	ResourceMetrics map[string]float64     `json:"resource_metrics"`
	SentAt          *timestamppb.Timestamp `json:"sent_at"`
}

type heartbeatResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

type pollRequest struct {
	UUID string `json:"uuid"`
}

type pollResponse struct {
	Tasks []TaskDescriptor `json:"tasks"`
}

type statusRequest struct {
	NodeUUID string `json:"node_uuid"`
	TaskID   int64  `json:"task_id"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

type statusResponse struct {
	Acknowledged bool `json:"acknowledged"`
}
