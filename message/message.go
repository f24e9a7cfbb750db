package message

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// Protocol addresses understood by the bridge.
const (
	AddressOrientation = "/orientation"
	AddressGyro        = "/gyro"
	AddressVibrate     = "/vibrate"
)

// Argument type tags.
const (
	TypeInt32   = "i"
	TypeInt64   = "h"
	TypeFloat32 = "f"
	TypeFloat64 = "d"
	TypeString  = "s"
	TypeBlob    = "b"
	TypeTrue    = "T"
	TypeFalse   = "F"
	TypeNil     = "N"
)

// Arg is one typed protocol argument. Its JSON form is the tagged wrapper
// {"type":"i","value":1}.
type Arg struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Int32 builds an "i" argument
func Int32(v int32) Arg { return Arg{Type: TypeInt32, Value: v} }

// Float32 builds an "f" argument
func Float32(v float32) Arg { return Arg{Type: TypeFloat32, Value: v} }

// String builds an "s" argument
func String(v string) Arg { return Arg{Type: TypeString, Value: v} }

// argFromValue tags a decoded wire value.
func argFromValue(v any) (Arg, error) {
	switch x := v.(type) {
	case int32:
		return Arg{Type: TypeInt32, Value: x}, nil
	case int64:
		return Arg{Type: TypeInt64, Value: x}, nil
	case float32:
		return Arg{Type: TypeFloat32, Value: x}, nil
	case float64:
		return Arg{Type: TypeFloat64, Value: x}, nil
	case string:
		return Arg{Type: TypeString, Value: x}, nil
	case []byte:
		return Arg{Type: TypeBlob, Value: x}, nil
	case bool:
		if x {
			return Arg{Type: TypeTrue, Value: true}, nil
		}
		return Arg{Type: TypeFalse, Value: false}, nil
	case nil:
		return Arg{Type: TypeNil}, nil
	default:
		return Arg{}, fmt.Errorf("unsupported argument type %T", v)
	}
}

// Bare returns the argument's scalar with the tag removed. float32 values are
// widened to the shortest float64 that prints the same, so 1.2f is 1.2.
func (a Arg) Bare() any {
	if f, ok := a.Value.(float32); ok {
		return widen(f)
	}
	return a.Value
}

// MarshalJSON writes the tagged wrapper using the bare value.
func (a Arg) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	}{a.Type, jsonValue(a.Bare())})
}

// jsonValue maps NaN and ±Inf to nil, which JSON writes as null.
func jsonValue(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil
		}
	}
	return v
}

func widen(f float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return v
}

// ProtocolMessage is one decoded datagram message: an address and its
// ordered arguments. It is not modified after decoding.
type ProtocolMessage struct {
	Address string `json:"address"`
	Args    []Arg  `json:"args"`
}

// New builds a ProtocolMessage
func New(address string, args ...Arg) ProtocolMessage {
	return ProtocolMessage{Address: address, Args: args}
}

// Float64 returns argument i as a float64. Integer arguments are converted.
func (m ProtocolMessage) Float64(i int) (float64, error) {
	if i < 0 || i >= len(m.Args) {
		return 0, fmt.Errorf("%s: argument %d missing (have %d)", m.Address, i, len(m.Args))
	}
	switch v := m.Args[i].Bare().(type) {
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%s: argument %d is %q, not numeric", m.Address, i, m.Args[i].Type)
	}
}

// Int returns argument i as an int. Float arguments are truncated.
func (m ProtocolMessage) Int(i int) (int, error) {
	if i < 0 || i >= len(m.Args) {
		return 0, fmt.Errorf("%s: argument %d missing (have %d)", m.Address, i, len(m.Args))
	}
	switch v := m.Args[i].Value.(type) {
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float32:
		return int(v), nil
	case float64:
		return int(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%s: argument %d is %q, not numeric", m.Address, i, m.Args[i].Type)
	}
}

// Flatten returns the bare argument values in order.
func (m ProtocolMessage) Flatten() []any {
	out := make([]any, len(m.Args))
	for i, a := range m.Args {
		out[i] = a.Bare()
	}
	return out
}

// Vibrate builds the actuator command: /vibrate i:1 to start, i:0 to stop.
func Vibrate(on bool) ProtocolMessage {
	state := int32(0)
	if on {
		state = 1
	}
	return New(AddressVibrate, Int32(state))
}

// OrientationSample is the payload pushed to consumers for /orientation.
// A non-finite angle is written as null.
type OrientationSample struct {
	Theta float64 `json:"theta"`
	Phi   float64 `json:"phi"`
}

// MarshalJSON writes {"theta":..,"phi":..}
func (s OrientationSample) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Theta any `json:"theta"`
		Phi   any `json:"phi"`
	}{jsonValue(s.Theta), jsonValue(s.Phi)})
}

// OrientationFromMessage reads theta and phi from args[0] and args[1].
func OrientationFromMessage(m ProtocolMessage) (OrientationSample, error) {
	theta, err := m.Float64(0)
	if err != nil {
		return OrientationSample{}, errors.WrapInvalid(errors.ErrDecode, "message", "OrientationFromMessage", err.Error())
	}
	phi, err := m.Float64(1)
	if err != nil {
		return OrientationSample{}, errors.WrapInvalid(errors.ErrDecode, "message", "OrientationFromMessage", err.Error())
	}
	return OrientationSample{Theta: theta, Phi: phi}, nil
}
