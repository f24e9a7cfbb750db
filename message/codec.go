package message

import (
	"fmt"

	"github.com/hypebeast/go-osc/osc"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// Decode parses one datagram into its messages. Bundles, including nested
// bundles, are flattened in order. Malformed input returns an invalid-class
// error wrapping errors.ErrDecode.
func Decode(datagram []byte) (msgs []ProtocolMessage, err error) {
	if len(datagram) == 0 {
		return nil, errors.WrapInvalid(errors.ErrDecode, "codec", "Decode", "empty datagram")
	}

	// The parser indexes into the buffer without bounds checks on some
	// truncated inputs.
	defer func() {
		if r := recover(); r != nil {
			msgs = nil
			err = errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecode, r), "codec", "Decode", "parse packet")
		}
	}()

	packet, perr := osc.ParsePacket(string(datagram))
	if perr != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecode, perr), "codec", "Decode", "parse packet")
	}

	if err := appendPacket(&msgs, packet); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecode, err), "codec", "Decode", "convert packet")
	}
	return msgs, nil
}

func appendPacket(out *[]ProtocolMessage, packet osc.Packet) error {
	switch p := packet.(type) {
	case *osc.Message:
		m, err := fromOSC(p)
		if err != nil {
			return err
		}
		*out = append(*out, m)
	case *osc.Bundle:
		for _, m := range p.Messages {
			if err := appendPacket(out, m); err != nil {
				return err
			}
		}
		for _, b := range p.Bundles {
			if err := appendPacket(out, b); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown packet type %T", packet)
	}
	return nil
}

func fromOSC(m *osc.Message) (ProtocolMessage, error) {
	args := make([]Arg, 0, len(m.Arguments))
	for _, v := range m.Arguments {
		a, err := argFromValue(v)
		if err != nil {
			return ProtocolMessage{}, fmt.Errorf("%s: %w", m.Address, err)
		}
		args = append(args, a)
	}
	return ProtocolMessage{Address: m.Address, Args: args}, nil
}

// Encode serializes m as a single datagram.
func Encode(m ProtocolMessage) ([]byte, error) {
	out := osc.NewMessage(m.Address)
	for i, a := range m.Args {
		v, err := wireValue(a)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("argument %d: %w", i, err), "codec", "Encode", "convert argument")
		}
		out.Append(v)
	}

	data, err := out.MarshalBinary()
	if err != nil {
		return nil, errors.WrapInvalid(err, "codec", "Encode", "marshal message")
	}
	return data, nil
}

// wireValue converts an Arg to the Go type the wire encoder expects for its tag.
func wireValue(a Arg) (any, error) {
	switch a.Type {
	case TypeInt32:
		switch v := a.Value.(type) {
		case int32:
			return v, nil
		case int:
			return int32(v), nil
		case int64:
			return int32(v), nil
		case float64:
			return int32(v), nil
		}
	case TypeInt64:
		switch v := a.Value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case float64:
			return int64(v), nil
		}
	case TypeFloat32:
		switch v := a.Value.(type) {
		case float32:
			return v, nil
		case float64:
			return float32(v), nil
		case int:
			return float32(v), nil
		}
	case TypeFloat64:
		switch v := a.Value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
	case TypeString:
		if v, ok := a.Value.(string); ok {
			return v, nil
		}
	case TypeBlob:
		if v, ok := a.Value.([]byte); ok {
			return v, nil
		}
	case TypeTrue:
		return true, nil
	case TypeFalse:
		return false, nil
	case TypeNil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown type tag %q", a.Type)
	}
	return nil, fmt.Errorf("value %v (%T) does not match type tag %q", a.Value, a.Value, a.Type)
}
