package api

import "fmt"

// RequestType discriminates the payload of a Request.
type RequestType int32

const (
	RequestHeartbeat RequestType = iota
	RequestInit
	RequestDisconnect
	RequestUpdateDeployPlan
	RequestAddFlowRoutePlan
	RequestLoadModel
	RequestUnloadModel
	RequestDownloadConfig
)

var requestTypeNames = map[RequestType]string{
	RequestHeartbeat:        "Heartbeat",
	RequestInit:             "InitRequest",
	RequestDisconnect:       "Disconnect",
	RequestUpdateDeployPlan: "UpdateDeployPlan",
	RequestAddFlowRoutePlan: "AddFlowRoutePlan",
	RequestLoadModel:        "LoadModel",
	RequestUnloadModel:      "UnloadModel",
	RequestDownloadConfig:   "DownloadConfig",
}

func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RequestType(%d)", int32(t))
}

// Request is the envelope sent from a deployer to a node.
type Request struct {
	Type     RequestType `json:"type"`
	ClientID string      `json:"client_id,omitempty"`

	Init       *InitRequest             `json:"init,omitempty"`
	Heartbeat  *HeartbeatRequest        `json:"heartbeat,omitempty"`
	DeployPlan *UpdateDeployPlanRequest `json:"deploy_plan,omitempty"`
	RoutePlan  *AddFlowRoutePlanRequest `json:"route_plan,omitempty"`
	Model      *ModelRequest            `json:"model,omitempty"`
	Config     *DownloadConfigRequest   `json:"config,omitempty"`
}

// AuthPayload is the signed blob attached to an InitRequest.
type AuthPayload struct {
	Data      []byte `json:"data"`
	Signature []byte `json:"signature"`
}

// InitRequest opens a session with a node.
type InitRequest struct {
	NodeID int32        `json:"node_id"`
	Auth   *AuthPayload `json:"auth,omitempty"`
}

// HeartbeatRequest probes a node for liveness.
type HeartbeatRequest struct {
	NodeID int32 `json:"node_id"`
}

// UpdateDeployPlanRequest carries an opaque submodel deploy plan.
type UpdateDeployPlanRequest struct {
	RootModelID uint32 `json:"root_model_id"`
	Body        []byte `json:"body"`
}

// AddFlowRoutePlanRequest pushes a node's FlowRoutePlan.
type AddFlowRoutePlanRequest struct {
	RootModelID uint32         `json:"root_model_id"`
	NodeID      int32          `json:"node_id"`
	Plan        *FlowRoutePlan `json:"plan"`
}

// ModelRequest loads or unloads submodels of a root model.
type ModelRequest struct {
	RootModelID uint32   `json:"root_model_id"`
	ModelIDs    []uint32 `json:"model_ids,omitempty"`
}

// DownloadConfigRequest ships an opaque configuration blob to the node.
type DownloadConfigRequest struct {
	Name string `json:"name"`
	Body []byte `json:"body"`
}

// Response is the reply to any Request.
type Response struct {
	ErrorCode    ErrorCode `json:"error_code"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`

	Init      *InitResponse      `json:"init,omitempty"`
	Heartbeat *HeartbeatResponse `json:"heartbeat,omitempty"`
}

// NewErrorResponse returns a response carrying code and a formatted message.
func NewErrorResponse(code ErrorCode, format string, args ...interface{}) *Response {
	msg := format
	if len(args) != 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Response{ErrorCode: code, ErrorMessage: msg}
}

// OK reports whether the response carries Success.
func (r *Response) OK() bool {
	return r != nil && r.ErrorCode == Success
}

// InitResponse reports the node's actual device layout after the handshake.
type InitResponse struct {
	DeviceCount int32   `json:"device_count"`
	DataPorts   []int32 `json:"data_ports,omitempty"`
}

// AbnormalType is the granularity of a reported fault.
type AbnormalType int32

const (
	AbnormalTypeNone AbnormalType = iota
	AbnormalTypeNode
	AbnormalTypeDevice
	AbnormalTypeSubmodelInstance
)

func (t AbnormalType) String() string {
	switch t {
	case AbnormalTypeNone:
		return "None"
	case AbnormalTypeNode:
		return "Node"
	case AbnormalTypeDevice:
		return "Device"
	case AbnormalTypeSubmodelInstance:
		return "SubmodelInstance"
	}
	return fmt.Sprintf("AbnormalType(%d)", int32(t))
}

// AbnormalDevice is one faulty device reported in a heartbeat.
type AbnormalDevice struct {
	DeviceID   int32      `json:"device_id"`
	DeviceType DeviceType `json:"device_type"`
	ErrorCode  ErrorCode  `json:"error_code"`
}

// HeartbeatResponse carries the abnormal state seen by the node.
type HeartbeatResponse struct {
	AbnormalType AbnormalType     `json:"abnormal_type"`
	Devices      []AbnormalDevice `json:"devices,omitempty"`
	// Submodels maps a root model id to the names of its failed submodel
	// instances.
	Submodels map[uint32][]string `json:"submodels,omitempty"`
}
