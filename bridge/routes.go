package bridge

import (
	"fmt"

	"github.com/salernoelia/haptic-hand-controller-prototype/message"
)

// Action is what the controller does with a routed message
type Action string

// Supported actions
const (
	// ActionBroadcast decodes an orientation sample and pushes it to consumers.
	ActionBroadcast Action = "broadcast"
	// ActionRecord hands the message to the telemetry recorder.
	ActionRecord Action = "record"
	// ActionLog logs the message and its first argument.
	ActionLog Action = "log"
)

// Route binds one inbound address to an action
type Route struct {
	Action      Action `json:"action" yaml:"action" toml:"action"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
}

// DefaultRoutes returns the standard table. telemetryAddress replaces /gyro
// when non-empty.
func DefaultRoutes(telemetryAddress string) map[string]Route {
	if telemetryAddress == "" {
		telemetryAddress = message.AddressGyro
	}
	return map[string]Route{
		message.AddressOrientation: {Action: ActionBroadcast, Description: "orientation to consumers"},
		telemetryAddress:           {Action: ActionRecord, Description: "telemetry to sinks"},
		message.AddressVibrate:     {Action: ActionLog, Description: "device vibration state"},
	}
}

func validateRoutes(routes map[string]Route) error {
	for addr, r := range routes {
		if addr == "" || addr[0] != '/' {
			return fmt.Errorf("route address %q must start with /", addr)
		}
		switch r.Action {
		case ActionBroadcast, ActionRecord, ActionLog:
		default:
			return fmt.Errorf("route %s: unknown action %q", addr, r.Action)
		}
	}
	return nil
}
