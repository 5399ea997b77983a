package artnet

import (
	"fmt"
	"net"
	"strings"

	"github.com/Haba1234/go-artnet"
)

// Type is a bit set of the directions a universe is used in.
type Type int

const (
	Unknown Type = 0
	Input   Type = 1 << 0
	Output  Type = 1 << 1
)

func (t Type) String() string {
	switch t {
	case Input:
		return "input"
	case Output:
		return "output"
	case Input | Output:
		return "both"
	}
	return "unknown"
}

// ParseType accepts "input", "output" or "both".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "input":
		return Input, nil
	case "output":
		return Output, nil
	case "both":
		return Input | Output, nil
	}
	return Unknown, fmt.Errorf("unknown universe type %q", s)
}

// TransmissionMode selects the ArtDmx payload size.
type TransmissionMode int

const (
	// Full always sends 512 channels.
	Full TransmissionMode = iota
	// Partial sends only the channels in use.
	Partial
)

const (
	transmitFull    = "Full"
	transmitPartial = "Partial"
)

func (m TransmissionMode) String() string {
	if m == Partial {
		return transmitPartial
	}
	return transmitFull
}

// ParseTransmissionMode returns Partial for "Partial" and Full for anything
// else.
func ParseTransmissionMode(s string) TransmissionMode {
	if s == transmitPartial {
		return Partial
	}
	return Full
}

// UniverseInfo is the mapping of one local universe on a line.
type UniverseInfo struct {
	OutputAddress  net.IP
	OutputUniverse artnet.Address
	Mode           TransmissionMode
	Type           Type
}

// InputEvent is one changed channel received from the network.
type InputEvent struct {
	Universe uint32
	Line     uint32
	Channel  uint32
	Value    uint8
}
