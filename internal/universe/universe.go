package universe

import (
	"math"
)

const (
	// DefaultChannels is the size of a DMX universe.
	DefaultChannels = 512
	// Invalid marks "no universe" and asks AddUniverse for the next free id.
	Invalid uint32 = math.MaxUint32
)

// BlendMode selects how a written value combines with the current one.
type BlendMode int

const (
	// NormalBlend is HTP on Intensity channels and LTP elsewhere.
	NormalBlend BlendMode = iota
	// AdditiveBlend sums values, clamped to 255.
	AdditiveBlend
)

func (m BlendMode) String() string {
	if m == AdditiveBlend {
		return "additive"
	}
	return "normal"
}

// Universe holds the pre and post grand master buffers of one DMX universe.
// Mutations go through Registry.ClaimUniverses; a Universe is not safe for
// concurrent use on its own.
type Universe struct {
	id          uint32
	name        string
	gm          *GrandMaster
	passthrough bool
	blendMode   BlendMode

	preGM  []byte
	postGM []byte
	input  []byte
	groups []ChannelGroup

	usedChannels int
	changed      bool

	inputPatch    InputPatch
	outputPatch   OutputPatch
	feedbackPatch FeedbackPatch
}

// New returns a zeroed universe of DefaultChannels channels sharing gm.
func New(id uint32, gm *GrandMaster) *Universe {
	if gm == nil {
		gm = NewGrandMaster()
	}
	return &Universe{
		id:     id,
		gm:     gm,
		preGM:  make([]byte, DefaultChannels),
		postGM: make([]byte, DefaultChannels),
		input:  make([]byte, DefaultChannels),
		groups: make([]ChannelGroup, DefaultChannels),
	}
}

func (u *Universe) ID() uint32               { return u.id }
func (u *Universe) Name() string             { return u.name }
func (u *Universe) SetName(name string)      { u.name = name }
func (u *Universe) Channels() int            { return len(u.preGM) }
func (u *Universe) UsedChannels() int        { return u.usedChannels }
func (u *Universe) HasChanged() bool         { return u.changed }
func (u *Universe) Passthrough() bool        { return u.passthrough }
func (u *Universe) BlendMode() BlendMode     { return u.blendMode }
func (u *Universe) SetBlendMode(m BlendMode) { u.blendMode = m }

// SetPassthrough merges the input buffer HTP into the output when enabled.
func (u *Universe) SetPassthrough(on bool) {
	if u.passthrough == on {
		return
	}
	u.passthrough = on
	if on {
		u.useUpTo(lastNonZero(u.input))
	}
}

// SetChannelCount resizes every buffer, keeping the leading values.
func (u *Universe) SetChannelCount(n int) {
	if n < 1 || n == len(u.preGM) {
		return
	}
	u.preGM = resize(u.preGM, n)
	u.postGM = resize(u.postGM, n)
	u.input = resize(u.input, n)
	groups := make([]ChannelGroup, n)
	copy(groups, u.groups)
	u.groups = groups
	if u.usedChannels > n {
		u.usedChannels = n
	}
}

// SetChannelGroup records the group of channel address.
func (u *Universe) SetChannelGroup(address uint32, g ChannelGroup) {
	if int64(address) >= int64(len(u.groups)) {
		return
	}
	u.groups[address] = g
}

// Classify records g for channel address as seen by a fader write. Nothing
// never overwrites a known group and an Intensity channel stays Intensity.
func (u *Universe) Classify(address uint32, g ChannelGroup) {
	if int64(address) >= int64(len(u.groups)) || g == GroupNothing {
		return
	}
	if u.groups[address] == GroupIntensity {
		return
	}
	u.groups[address] = g
}

// ChannelGroup returns the group of channel address.
func (u *Universe) ChannelGroup(address uint32) ChannelGroup {
	if int64(address) >= int64(len(u.groups)) {
		return GroupNothing
	}
	return u.groups[address]
}

// PreGMValue returns the merged value of address before the grand master.
func (u *Universe) PreGMValue(address uint32) uint8 {
	if int64(address) >= int64(len(u.preGM)) {
		return 0
	}
	return u.preGM[address]
}

// PostGMValue returns the committed output value of address.
func (u *Universe) PostGMValue(address uint32) uint8 {
	if int64(address) >= int64(len(u.postGM)) {
		return 0
	}
	return u.postGM[address]
}

// InputValue returns the last value received on address.
func (u *Universe) InputValue(address uint32) uint8 {
	if int64(address) >= int64(len(u.input)) {
		return 0
	}
	return u.input[address]
}

// PostGMValues returns a copy of the committed output over the used channels.
func (u *Universe) PostGMValues() []byte {
	out := make([]byte, u.usedChannels)
	copy(out, u.postGM)
	return out
}

// Write writes value to address with the universe's own blend mode.
func (u *Universe) Write(address uint32, value uint8) bool {
	return u.WriteBlended(address, value, u.blendMode)
}

// WriteBlended merges value into address. Out of range addresses are
// ignored and reported as false.
func (u *Universe) WriteBlended(address uint32, value uint8, mode BlendMode) bool {
	if int64(address) >= int64(len(u.preGM)) {
		return false
	}

	switch mode {
	case AdditiveBlend:
		sum := int(u.preGM[address]) + int(value)
		if sum > 255 {
			sum = 255
		}
		u.preGM[address] = uint8(sum)
	default:
		if u.groups[address] == GroupIntensity {
			if value > u.preGM[address] {
				u.preGM[address] = value
			}
		} else {
			u.preGM[address] = value
		}
	}

	u.useUpTo(int(address) + 1)
	return true
}

// ZeroIntensityChannels clears every Intensity channel so HTP merging
// starts from zero on each tick.
func (u *Universe) ZeroIntensityChannels() {
	for i := 0; i < u.usedChannels; i++ {
		if u.groups[i] == GroupIntensity {
			u.preGM[i] = 0
		}
	}
}

// Commit recomputes the post grand master buffer over the used channels and
// marks the universe changed if any output byte differs.
func (u *Universe) Commit() {
	for i := 0; i < u.usedChannels; i++ {
		v := u.preGM[i]
		if u.passthrough && u.input[i] > v {
			v = u.input[i]
		}
		v = u.gm.Apply(v, u.groups[i])
		if u.postGM[i] != v {
			u.postGM[i] = v
			u.changed = true
		}
	}
}

// Reset zeroes every buffer. The used channel watermark is kept so the next
// dump still carries the zeroed frame.
func (u *Universe) Reset() {
	clear8(u.preGM)
	clear8(u.postGM)
	clear8(u.input)
	u.changed = true
}

func (u *Universe) setInputValue(address uint32, value uint8) bool {
	if int64(address) >= int64(len(u.input)) {
		return false
	}
	if u.input[address] == value {
		return false
	}
	u.input[address] = value
	if u.passthrough {
		u.useUpTo(int(address) + 1)
	}
	return true
}

func (u *Universe) flushInput() {
	clear8(u.input)
}

func (u *Universe) useUpTo(n int) {
	if n > len(u.preGM) {
		n = len(u.preGM)
	}
	if n > u.usedChannels {
		u.usedChannels = n
	}
}

func resize(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

func clear8(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func lastNonZero(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0 {
			return i + 1
		}
	}
	return 0
}
