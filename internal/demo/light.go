// Package demo holds the light command packet used by commlinkctl and the
// package tests.
package demo

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/commlink/internal/protocol/encoding"
)

const (
	FunctionID byte = 2
	ParamSize       = 2
)

var Magic = []byte{0xAA, 0x55}

var ErrParam = errors.New("demo: light command param must be 2 bytes")

// LightCommand switches one light on or off.
type LightCommand struct {
	LightID byte
	On      bool
	Stamp   time.Time
}

func NewLightCommand() encoding.ParamPacket {
	return &LightCommand{}
}

func (c *LightCommand) Param() []byte {
	on := byte(0x00)
	if c.On {
		on = 0x01
	}
	return []byte{c.LightID, on}
}

func (c *LightCommand) SetParam(p []byte) error {
	if len(p) != ParamSize {
		return fmt.Errorf("%w: got %d", ErrParam, len(p))
	}
	c.LightID = p[0]
	c.On = p[1] == 0x01
	return nil
}

func (c *LightCommand) Timestamp() time.Time {
	return c.Stamp
}

func (c *LightCommand) SetTimestamp(t time.Time) {
	c.Stamp = t
}

func (c *LightCommand) String() string {
	state := "off"
	if c.On {
		state = "on"
	}
	return fmt.Sprintf("light %d %s", c.LightID, state)
}

// NewCodec frames light commands as magic, function id, then params.
func NewCodec() *encoding.Codec[*LightCommand] {
	chain := encoding.NewBuilder().
		WithFunction(FunctionID, ParamSize, NewLightCommand).
		WithHeader(Magic).
		MustBuild()
	return encoding.For[*LightCommand](chain)
}

// NewTimedCodec appends a seconds timestamp after the params.
func NewTimedCodec(mode encoding.TimestampMode) *encoding.Codec[*LightCommand] {
	chain := encoding.NewBuilder().
		WithFunction(FunctionID, ParamSize, NewLightCommand).
		WithUnixTimeEpoch(mode).
		WithHeader(Magic).
		MustBuild()
	return encoding.For[*LightCommand](chain)
}

// SameLight correlates a response with the request for the same light.
func SameLight(c *LightCommand) byte {
	return c.LightID
}
