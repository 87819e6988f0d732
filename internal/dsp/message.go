package dsp

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownMessage   = errors.New("unknown dsp message type")
	ErrMalformedMessage = errors.New("malformed dsp message")
)

type MessageType string

const (
	MessageConfig MessageType = "config"
	MessageMeter  MessageType = "meter"
)

// Message is what crosses a Port. Implementations: ConfigMessage, MeterMessage.
type Message interface {
	Type() MessageType
}

// ConfigMessage is a partial config patch; nil fields are left untouched.
type ConfigMessage struct {
	Enabled          *bool    `msgpack:"enabled,omitempty"`
	ThresholdDb      *float64 `msgpack:"thresholdDb,omitempty"`
	HoldMs           *float64 `msgpack:"holdMs,omitempty"`
	UpdateIntervalMs *float64 `msgpack:"updateIntervalMs,omitempty"`
}

func (ConfigMessage) Type() MessageType { return MessageConfig }

// GatePatch builds a full patch for a gate config.
func GatePatch(cfg GateConfig) ConfigMessage {
	return ConfigMessage{Enabled: &cfg.Enabled, ThresholdDb: &cfg.ThresholdDb, HoldMs: &cfg.HoldMs}
}

// MeterPatch builds a full patch for a meter config.
func MeterPatch(cfg MeterConfig) ConfigMessage {
	return ConfigMessage{Enabled: &cfg.Enabled, UpdateIntervalMs: &cfg.UpdateIntervalMs}
}

type MeterMessage struct {
	Decibels float64 `msgpack:"decibels"`
}

func (MeterMessage) Type() MessageType { return MessageMeter }

type envelope struct {
	Type    MessageType        `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

func Encode(m Message) ([]byte, error) {
	payload, err := msgpack.Marshal(m)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(envelope{Type: m.Type(), Payload: payload})
}

func Decode(data []byte) (Message, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch env.Type {
	case MessageConfig:
		var m ConfigMessage
		if err := msgpack.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return m, nil
	case MessageMeter:
		var m MeterMessage
		if err := msgpack.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}
