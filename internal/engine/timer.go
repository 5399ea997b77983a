package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"lightcore/internal/fader"
	"lightcore/internal/logger"
	"lightcore/internal/universe"
)

const inboxSize = 1024

var ErrAlreadyStarted = errors.New("master timer already started")

// ChannelValue is a direct value for one universe channel.
type ChannelValue struct {
	Universe uint32
	Channel  uint32
	Value    uint8
}

// MasterTimer drives every running function and fader at a fixed tick and
// dumps the universes after each one.
type MasterTimer struct {
	log      *logger.Log
	clock    clock.WithTicker
	tick     time.Duration
	tickMS   uint32
	registry *universe.Registry

	functionsMu sync.Mutex
	functions   []Function
	startMu     sync.Mutex
	starting    []Function

	fadersMu sync.Mutex
	faders   []*fader.GenericFader
	fadeOut  *fader.FadeOutFader
	direct   *fader.GenericFader

	flashMu  sync.Mutex
	flashing map[uint32]*Scene
	flash    *fader.GenericFader

	inbox chan ChannelValue
	ticks atomic.Uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMasterTimer returns a stopped timer ticking every tickMS on clk. A nil
// clock means the real clock.
func NewMasterTimer(reg *universe.Registry, tickMS uint32, clk clock.WithTicker, log logger.Logger) *MasterTimer {
	if tickMS == 0 {
		tickMS = fader.DefaultTickMS
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	l := logger.OrDiscard(log)
	return &MasterTimer{
		log:      l.Module("engine"),
		clock:    clk,
		tick:     time.Duration(tickMS) * time.Millisecond,
		tickMS:   tickMS,
		registry: reg,
		fadeOut:  fader.NewFadeOut(tickMS, l),
		direct:   fader.New("direct", tickMS, l),
		flash:    fader.New("flash", tickMS, l),
		flashing: make(map[uint32]*Scene),
		inbox:    make(chan ChannelValue, inboxSize),
	}
}

// TickMS returns the fixed tick in milliseconds.
func (t *MasterTimer) TickMS() uint32 { return t.tickMS }

// Registry returns the universes the timer writes.
func (t *MasterTimer) Registry() *universe.Registry { return t.registry }

// FadeOutFader returns the fader stopped functions hand their channels to.
func (t *MasterTimer) FadeOutFader() *fader.FadeOutFader { return t.fadeOut }

// Start runs the tick loop until ctx is done or Stop is called.
func (t *MasterTimer) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.done != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	ticker := t.clock.NewTicker(t.tick)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		t.log.Infof("master timer started, tick %v", t.tick)
		for {
			select {
			case <-ctx.Done():
				t.log.Info("master timer stopped")
				return
			case <-ticker.C():
				t.Tick()
			}
		}
	}(t.done)
	return nil
}

// Stop ends the tick loop and waits for the current tick to finish.
func (t *MasterTimer) Stop() {
	t.runMu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick runs one engine cycle: clear HTP channels, write functions, write
// faders, commit and dump.
func (t *MasterTimer) Tick() {
	set := t.registry.ClaimUniverses()
	for _, u := range set {
		u.ZeroIntensityChannels()
	}

	t.drainInbox(set)
	t.tickFunctions(set)
	t.tickFaders(set)

	t.registry.ReleaseUniverses(true)
	t.registry.Dump()

	t.ticks.Add(1)
}

// Ticks returns the number of completed ticks.
func (t *MasterTimer) Ticks() uint64 { return t.ticks.Load() }

func (t *MasterTimer) drainInbox(set universe.Set) {
	for {
		select {
		case v := <-t.inbox:
			group := universe.GroupNothing
			if u, ok := set[v.Universe]; ok {
				group = u.ChannelGroup(v.Channel)
			}
			fc := fader.NewFadeChannel(fader.ChannelKey{
				Universe: v.Universe,
				Address:  v.Channel,
				Fixture:  fader.NoFixture,
				Group:    group,
			})
			fc.Start, fc.Current, fc.Target = v.Value, v.Value, v.Value
			t.direct.Replace(fc)
		default:
			return
		}
	}
}

func (t *MasterTimer) tickFunctions(set universe.Set) {
	t.startMu.Lock()
	starting := t.starting
	t.starting = nil
	t.startMu.Unlock()

	t.functionsMu.Lock()
	defer t.functionsMu.Unlock()

	for _, f := range starting {
		t.log.Debugf("function %q started", f.Name())
		f.PreRun(t)
		t.functions = append(t.functions, f)
	}

	kept := t.functions[:0]
	for _, f := range t.functions {
		b := f.base()
		if b.RunState() != StopRequested {
			f.Write(t, set)
		}
		if b.RunState() == StopRequested {
			f.PostRun(t, set)
			b.markStopped()
			t.log.Debugf("function %q stopped", f.Name())
			continue
		}
		kept = append(kept, f)
	}
	for i := len(kept); i < len(t.functions); i++ {
		t.functions[i] = nil
	}
	t.functions = kept
}

func (t *MasterTimer) tickFaders(set universe.Set) {
	t.writeFlash(set)

	t.fadersMu.Lock()
	kept := t.faders[:0]
	for _, f := range t.faders {
		if f.DeleteRequested() {
			continue
		}
		f.Write(set)
		kept = append(kept, f)
	}
	for i := len(kept); i < len(t.faders); i++ {
		t.faders[i] = nil
	}
	t.faders = kept
	t.fadersMu.Unlock()

	t.fadeOut.Write(set)
	t.direct.Write(set)
}

func (t *MasterTimer) writeFlash(set universe.Set) {
	t.flashMu.Lock()
	for _, s := range t.flashing {
		for _, fc := range s.flashChannels() {
			t.flash.Add(fc)
		}
	}
	t.flashMu.Unlock()
	t.flash.Write(set)
}

// StartFunction queues f to enter the timer on the next tick.
func (t *MasterTimer) StartFunction(f Function) error {
	return t.startFunction(f, nil)
}

func (t *MasterTimer) startFunction(f Function, override *Speeds) error {
	if err := f.base().start(override); err != nil {
		return fmt.Errorf("function %q: %w", f.Name(), err)
	}
	t.startMu.Lock()
	t.starting = append(t.starting, f)
	t.startMu.Unlock()
	return nil
}

// StopFunction asks f to leave the timer on the next tick.
func (t *MasterTimer) StopFunction(f Function) error {
	if err := f.base().requestStop(); err != nil {
		return fmt.Errorf("function %q: %w", f.Name(), err)
	}
	return nil
}

// PauseFunction freezes or resumes f.
func (t *MasterTimer) PauseFunction(f Function, paused bool) error {
	if err := f.base().setPaused(paused); err != nil {
		return fmt.Errorf("function %q: %w", f.Name(), err)
	}
	return nil
}

// StopAndWait requests f to stop and waits until it has left the timer or
// ctx is done.
func (t *MasterTimer) StopAndWait(ctx context.Context, f Function) error {
	b := f.base()
	if !b.stopIfRunning() {
		return nil
	}
	select {
	case <-b.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("function %q: %w: %v", f.Name(), ErrStopTimeout, ctx.Err())
	}
}

// StopAllFunctions requests every running function to stop and clears the
// direct values.
func (t *MasterTimer) StopAllFunctions() {
	t.functionsMu.Lock()
	running := append([]Function(nil), t.functions...)
	t.functionsMu.Unlock()

	for _, f := range running {
		if err := t.StopFunction(f); err != nil {
			t.log.Debugf("stop all: %v", err)
		}
	}
	t.direct.RemoveAll()
}

// RunningFunctions returns the number of functions inside the timer.
func (t *MasterTimer) RunningFunctions() int {
	t.functionsMu.Lock()
	defer t.functionsMu.Unlock()
	return len(t.functions)
}

// RegisterFader creates a fader written on every tick until it is
// unregistered or asks to be deleted.
func (t *MasterTimer) RegisterFader(name string) *fader.GenericFader {
	f := fader.New(name, t.tickMS, t.log)
	t.fadersMu.Lock()
	t.faders = append(t.faders, f)
	t.fadersMu.Unlock()
	return f
}

// UnregisterFader removes f immediately.
func (t *MasterTimer) UnregisterFader(f *fader.GenericFader) {
	t.fadersMu.Lock()
	defer t.fadersMu.Unlock()
	for i, g := range t.faders {
		if g == f {
			t.faders = append(t.faders[:i], t.faders[i+1:]...)
			return
		}
	}
}

// Faders returns the number of registered faders.
func (t *MasterTimer) Faders() int {
	t.fadersMu.Lock()
	defer t.fadersMu.Unlock()
	return len(t.faders)
}

// Submit queues a direct channel value for the next tick. It returns false
// when the queue is full.
func (t *MasterTimer) Submit(v ChannelValue) bool {
	select {
	case t.inbox <- v:
		return true
	default:
		t.log.Warnf("inbox full, dropped %d:%d=%d", v.Universe, v.Channel, v.Value)
		return false
	}
}

// FlashScene starts or stops flashing s. A flashing scene writes its values
// at full level on every tick, whether it runs or not.
func (t *MasterTimer) FlashScene(s *Scene, on bool) {
	t.flashMu.Lock()
	defer t.flashMu.Unlock()
	if on {
		t.flashing[s.ID()] = s
	} else {
		delete(t.flashing, s.ID())
	}
}
