package fader

import (
	"fmt"
	"math"

	"lightcore/internal/universe"
)

// NoFixture is the fixture id of channels not owned by a fixture.
const NoFixture = universe.Invalid

// ChannelKey identifies one fadeable channel.
type ChannelKey struct {
	Universe uint32
	Address  uint32
	Fixture  uint32
	Group    universe.ChannelGroup
}

func (k ChannelKey) String() string {
	return fmt.Sprintf("%d:%d (fixture %d, %s)", k.Universe, k.Address, k.Fixture, k.Group)
}

// FadeChannel is the value state of one fade on a channel.
type FadeChannel struct {
	key ChannelKey

	Start   uint8
	Current uint8
	Target  uint8

	Elapsed  uint32 // ms
	FadeTime uint32 // ms

	Flashing bool
	CanFade  bool

	ready bool
}

// NewFadeChannel returns an idle, fadeable channel for key.
func NewFadeChannel(key ChannelKey) FadeChannel {
	return FadeChannel{key: key, CanFade: true}
}

// Key returns the identity of the channel.
func (fc *FadeChannel) Key() ChannelKey { return fc.key }

// Ready reports whether the fade has reached its target.
func (fc *FadeChannel) Ready() bool { return fc.ready }

// Step advances the fade by ms and returns the new current value.
func (fc *FadeChannel) Step(ms uint32) uint8 {
	elapsed := uint64(fc.Elapsed) + uint64(ms)
	if elapsed > uint64(fc.FadeTime) {
		elapsed = uint64(fc.FadeTime)
	}
	fc.Elapsed = uint32(elapsed)

	if fc.FadeTime == 0 {
		fc.Current = fc.Target
	} else {
		delta := (float64(fc.Target) - float64(fc.Start)) * float64(fc.Elapsed) / float64(fc.FadeTime)
		fc.Current = uint8(math.Round(float64(fc.Start) + delta))
	}
	fc.ready = fc.Elapsed >= fc.FadeTime
	return fc.Current
}

// Scaled returns the current value multiplied by intensity, rounded.
func (fc *FadeChannel) Scaled(intensity float64) uint8 {
	return scale(fc.Current, intensity)
}

func (fc *FadeChannel) low() uint8 {
	if fc.Current < fc.Target {
		return fc.Current
	}
	return fc.Target
}

func (fc *FadeChannel) high() uint8 {
	if fc.Current > fc.Target {
		return fc.Current
	}
	return fc.Target
}

// dominates reports whether x never drops below y for the rest of both
// fades: the low end of x is above the low end of y and its high end is at
// least as high.
func dominates(x, y *FadeChannel) bool {
	return x.low() > y.low() && x.high() >= y.high()
}

func scale(v uint8, intensity float64) uint8 {
	if intensity >= 1 {
		return v
	}
	if intensity <= 0 {
		return 0
	}
	return uint8(math.Round(float64(v) * intensity))
}
