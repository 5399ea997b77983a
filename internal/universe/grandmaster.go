package universe

import (
	"fmt"
	"math"
	"strings"
)

// ChannelGroup classifies a fixture channel. Only Intensity has special
// meaning to the engine: it is merged HTP and scaled by the grand master.
type ChannelGroup uint8

const (
	GroupNothing ChannelGroup = iota
	GroupIntensity
	GroupColour
	GroupPan
	GroupTilt
	GroupBeam
	GroupGobo
	GroupSpeed
	GroupEffect
	GroupMaintenance
)

var groupNames = map[ChannelGroup]string{
	GroupNothing:     "Nothing",
	GroupIntensity:   "Intensity",
	GroupColour:      "Colour",
	GroupPan:         "Pan",
	GroupTilt:        "Tilt",
	GroupBeam:        "Beam",
	GroupGobo:        "Gobo",
	GroupSpeed:       "Speed",
	GroupEffect:      "Effect",
	GroupMaintenance: "Maintenance",
}

func (g ChannelGroup) String() string {
	if s, ok := groupNames[g]; ok {
		return s
	}
	return fmt.Sprintf("ChannelGroup(%d)", uint8(g))
}

// ValueMode selects how the grand master value is applied.
type ValueMode int

const (
	// Reduce scales channel values by value/255.
	Reduce ValueMode = iota
	// Limit clamps channel values to value.
	Limit
)

func (m ValueMode) String() string {
	if m == Limit {
		return "limit"
	}
	return "reduce"
}

// ParseValueMode accepts "reduce" or "limit" (case insensitive).
func ParseValueMode(s string) (ValueMode, error) {
	switch strings.ToLower(s) {
	case "reduce":
		return Reduce, nil
	case "limit":
		return Limit, nil
	}
	return Reduce, fmt.Errorf("unknown grand master value mode %q", s)
}

// ChannelMode selects which channels the grand master affects.
type ChannelMode int

const (
	// IntensityChannels applies the grand master to Intensity channels only.
	IntensityChannels ChannelMode = iota
	// AllChannels applies the grand master to every channel.
	AllChannels
)

func (m ChannelMode) String() string {
	if m == AllChannels {
		return "all"
	}
	return "intensity"
}

// ParseChannelMode accepts "intensity" or "all" (case insensitive).
func ParseChannelMode(s string) (ChannelMode, error) {
	switch strings.ToLower(s) {
	case "intensity":
		return IntensityChannels, nil
	case "all":
		return AllChannels, nil
	}
	return IntensityChannels, fmt.Errorf("unknown grand master channel mode %q", s)
}

// GrandMaster is the global scalar applied on top of every universe.
// It is not synchronised on its own; the Registry mutex guards it.
type GrandMaster struct {
	value       uint8
	valueMode   ValueMode
	channelMode ChannelMode
}

// NewGrandMaster returns a grand master at full, Reduce, Intensity only.
func NewGrandMaster() *GrandMaster {
	return &GrandMaster{value: 255, valueMode: Reduce, channelMode: IntensityChannels}
}

func (gm *GrandMaster) Value() uint8             { return gm.value }
func (gm *GrandMaster) ValueMode() ValueMode     { return gm.valueMode }
func (gm *GrandMaster) ChannelMode() ChannelMode { return gm.channelMode }

// Fraction returns value/255.
func (gm *GrandMaster) Fraction() float64 {
	return float64(gm.value) / 255
}

func (gm *GrandMaster) setValue(v uint8) bool {
	if gm.value == v {
		return false
	}
	gm.value = v
	return true
}

func (gm *GrandMaster) setValueMode(m ValueMode) bool {
	if gm.valueMode == m {
		return false
	}
	gm.valueMode = m
	return true
}

func (gm *GrandMaster) setChannelMode(m ChannelMode) bool {
	if gm.channelMode == m {
		return false
	}
	gm.channelMode = m
	return true
}

// Apply returns v after the grand master for a channel of group g.
func (gm *GrandMaster) Apply(v uint8, g ChannelGroup) uint8 {
	if gm.channelMode == IntensityChannels && g != GroupIntensity {
		return v
	}
	if gm.valueMode == Limit {
		if v > gm.value {
			return gm.value
		}
		return v
	}
	return uint8(math.Round(float64(v) * float64(gm.value) / 255))
}
