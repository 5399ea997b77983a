package engine

import (
	"sync"

	"lightcore/internal/universe"
)

// RunOrder decides what a chaser does after its last step.
type RunOrder int

const (
	Loop RunOrder = iota
	SingleShot
)

// ChaserStep is one function run by a chaser with its own speeds.
type ChaserStep struct {
	Function Function
	Speeds   Speeds
}

// duration is how long the step stays current: Duration when set, otherwise
// the fade in plus the hold.
func (s ChaserStep) duration() uint32 {
	if s.Speeds.Duration > 0 {
		return s.Speeds.Duration
	}
	return s.Speeds.FadeIn + s.Speeds.Hold
}

// Chaser runs its steps one after the other. Stopping a step lets it fade
// out while the next one fades in.
type Chaser struct {
	*Base

	mu       sync.Mutex
	steps    []ChaserStep
	runOrder RunOrder

	index       int
	stepElapsed uint32
}

// NewChaser returns an empty looping chaser.
func NewChaser(id uint32, name string) *Chaser {
	return &Chaser{Base: newBase(id, name), index: -1}
}

func (c *Chaser) AddStep(step ChaserStep) {
	c.mu.Lock()
	c.steps = append(c.steps, step)
	c.mu.Unlock()
}

func (c *Chaser) Steps() []ChaserStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChaserStep(nil), c.steps...)
}

func (c *Chaser) SetRunOrder(o RunOrder) {
	c.mu.Lock()
	c.runOrder = o
	c.mu.Unlock()
}

// CurrentStep returns the index of the running step, or -1.
func (c *Chaser) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

func (c *Chaser) PreRun(_ *MasterTimer) {
	c.mu.Lock()
	c.index = -1
	c.stepElapsed = 0
	c.mu.Unlock()
}

func (c *Chaser) Write(t *MasterTimer, _ universe.Set) {
	if c.IsPaused() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.steps) == 0 {
		_ = c.requestStop()
		return
	}
	if c.index < 0 || c.stepElapsed >= c.steps[c.index].duration() {
		if !c.advanceLocked(t) {
			return
		}
	}

	c.stepElapsed += t.TickMS()
	c.incrementElapsed(t.TickMS())
}

func (c *Chaser) advanceLocked(t *MasterTimer) bool {
	next := c.index + 1
	if next >= len(c.steps) {
		if c.runOrder == SingleShot {
			_ = c.requestStop()
			return false
		}
		next = 0
	}

	if c.index >= 0 {
		prev := c.steps[c.index].Function
		if prev == c.steps[next].Function {
			c.index = next
			c.stepElapsed = 0
			return true
		}
		if err := t.StopFunction(prev); err != nil {
			t.log.Debugf("chaser %q: %v", c.Name(), err)
		}
	}

	step := c.steps[next]
	speeds := step.Speeds
	if err := t.startFunction(step.Function, &speeds); err != nil {
		t.log.Warnf("chaser %q step %d: %v", c.Name(), next, err)
	}
	c.index = next
	c.stepElapsed = 0
	return true
}

func (c *Chaser) PostRun(t *MasterTimer, _ universe.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index >= 0 && c.index < len(c.steps) {
		f := c.steps[c.index].Function
		if f.base().IsRunning() {
			if err := t.StopFunction(f); err != nil {
				t.log.Debugf("chaser %q: %v", c.Name(), err)
			}
		}
	}
	c.index = -1
}
