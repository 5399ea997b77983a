package engine

import (
	"errors"
	"fmt"
	"sync"

	"lightcore/internal/universe"
)

var (
	ErrInvalidTransition = errors.New("invalid run state transition")
	ErrStopTimeout       = errors.New("function did not stop in time")
)

// RunState is the lifecycle of a function inside the master timer.
type RunState int

const (
	Idle RunState = iota
	Running
	PausedRunning
	StopRequested
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case PausedRunning:
		return "paused"
	case StopRequested:
		return "stop requested"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Speeds are the fade in, hold, fade out and total durations in ms. A zero
// Duration means the function runs until stopped.
type Speeds struct {
	FadeIn   uint32
	Hold     uint32
	FadeOut  uint32
	Duration uint32
}

// Function is anything the master timer can run. The set of implementations
// is closed to this package: every variant embeds *Base.
type Function interface {
	ID() uint32
	Name() string

	// PreRun is called on the tick the function enters the timer.
	PreRun(t *MasterTimer)
	// Write is called on every tick while the function is in the timer.
	Write(t *MasterTimer, set universe.Set)
	// PostRun is called once after a stop request, with the universes still
	// claimed. It is the place to hand channels over to the fade-out fader.
	PostRun(t *MasterTimer, set universe.Set)

	base() *Base
}

// Base is the state shared by every function variant.
type Base struct {
	id   uint32
	name string

	mu        sync.Mutex
	speeds    Speeds
	override  *Speeds
	intensity float64
	blendMode universe.BlendMode
	state     RunState
	elapsed   uint32
	done      chan struct{}
}

func newBase(id uint32, name string) *Base {
	done := make(chan struct{})
	close(done)
	return &Base{id: id, name: name, intensity: 1, done: done}
}

func (b *Base) base() *Base  { return b }
func (b *Base) ID() uint32   { return b.id }
func (b *Base) Name() string { return b.name }

func (b *Base) Speeds() Speeds {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speeds
}

func (b *Base) SetSpeeds(s Speeds) {
	b.mu.Lock()
	b.speeds = s
	b.mu.Unlock()
}

// EffectiveSpeeds returns the speeds the function was started with: the
// override given by a parent, or its own.
func (b *Base) EffectiveSpeeds() Speeds {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.override != nil {
		return *b.override
	}
	return b.speeds
}

func (b *Base) Intensity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.intensity
}

// AdjustIntensity sets the intensity fraction, clamped to 0..1.
func (b *Base) AdjustIntensity(fraction float64) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	b.mu.Lock()
	b.intensity = fraction
	b.mu.Unlock()
}

func (b *Base) BlendMode() universe.BlendMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blendMode
}

func (b *Base) SetBlendMode(m universe.BlendMode) {
	b.mu.Lock()
	b.blendMode = m
	b.mu.Unlock()
}

func (b *Base) RunState() RunState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsRunning reports whether the function is inside the timer.
func (b *Base) IsRunning() bool {
	switch b.RunState() {
	case Running, PausedRunning, StopRequested:
		return true
	}
	return false
}

func (b *Base) IsPaused() bool { return b.RunState() == PausedRunning }

// Elapsed returns the ms elapsed since the function was started.
func (b *Base) Elapsed() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.elapsed
}

func (b *Base) incrementElapsed(ms uint32) {
	b.mu.Lock()
	b.elapsed += ms
	b.mu.Unlock()
}

// Done is closed once the function has stopped.
func (b *Base) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *Base) start(override *Speeds) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Idle, Stopped:
	default:
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, b.state)
	}
	b.state = Running
	b.override = override
	b.elapsed = 0
	b.done = make(chan struct{})
	return nil
}

func (b *Base) setPaused(paused bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case paused && b.state == Running:
		b.state = PausedRunning
	case !paused && b.state == PausedRunning:
		b.state = Running
	case paused && b.state == PausedRunning, !paused && b.state == Running:
	default:
		return fmt.Errorf("%w: pause(%v) while %s", ErrInvalidTransition, paused, b.state)
	}
	return nil
}

func (b *Base) requestStop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Running, PausedRunning:
		b.state = StopRequested
	case StopRequested:
	default:
		return fmt.Errorf("%w: stop while %s", ErrInvalidTransition, b.state)
	}
	return nil
}

// stopIfRunning requests a stop and reports whether b was running or
// already stopping.
func (b *Base) stopIfRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Running, PausedRunning:
		b.state = StopRequested
		return true
	case StopRequested:
		return true
	}
	return false
}

func (b *Base) markStopped() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Stopped || b.state == Idle {
		return
	}
	b.state = Stopped
	b.override = nil
	close(b.done)
}
