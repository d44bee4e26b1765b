package routing

import (
	"errors"
	"fmt"
)

// Orchestrator issues bridge and channel commands against the telephony
// control channel. Implementations perform exactly one request per call,
// never retry and never compensate; failures come back as *CommandError.
type Orchestrator interface {
	CreateBridge(bridgeType string) (string, error)
	AddChannel(bridgeID, channelID string) error
	RemoveChannel(bridgeID, channelID string) error
	DestroyBridge(bridgeID string) error
	Originate(endpoint, appArgs string) (string, error)
	Answer(channelID string) error
	Hangup(channelID string) error
	StartMOH(channelID string) error
	StopMOH(channelID string) error
	GetBridge(bridgeID string) (BridgeInfo, error)
}

// BridgeInfo is a point-in-time view of a bridge.
type BridgeInfo struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// Command operation names carried by CommandError.
const (
	OpCreateBridge  = "create_bridge"
	OpAddChannel    = "add_channel"
	OpRemoveChannel = "remove_channel"
	OpDestroyBridge = "destroy_bridge"
	OpOriginate     = "originate"
	OpAnswer        = "answer"
	OpHangup        = "hangup"
	OpStartMOH      = "start_moh"
	OpStopMOH       = "stop_moh"
	OpGetBridge     = "get_bridge"
)

// CommandError is a failed control-channel command.
type CommandError struct {
	Op     string
	Target string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// NewCommandError wraps err unless it is nil.
func NewCommandError(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Op: op, Target: target, Err: err}
}

// ErrCallNotFound is returned when no active call matches a lookup.
var ErrCallNotFound = errors.New("call not found")
