package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"lightcore/internal/fader"
	"lightcore/internal/universe"
)

type recordingOutput struct {
	mu    sync.Mutex
	dumps int
}

func (o *recordingOutput) Dump(uint32, []byte) {
	o.mu.Lock()
	o.dumps++
	o.mu.Unlock()
}

func newTestTimer(t *testing.T) (*MasterTimer, *universe.Universe) {
	t.Helper()
	reg := universe.NewRegistry(nil)
	id, ok := reg.AddUniverse(0)
	require.True(t, ok)
	return NewMasterTimer(reg, 25, nil, nil), reg.Universe(id)
}

func dimmer(address uint32) fader.ChannelKey {
	return fader.ChannelKey{Universe: 0, Address: address, Fixture: fader.NoFixture, Group: universe.GroupIntensity}
}

func sceneWith(id uint32, key fader.ChannelKey, value uint8, speeds Speeds) *Scene {
	s := NewScene(id, "scene")
	s.SetValue(SceneValue{Key: key, Value: value, CanFade: true})
	s.SetSpeeds(speeds)
	return s
}

func ticks(tm *MasterTimer, u *universe.Universe, address uint32, n int) []uint8 {
	out := make([]uint8, 0, n)
	for i := 0; i < n; i++ {
		tm.Tick()
		out = append(out, u.PostGMValue(address))
	}
	return out
}

func TestSceneFadeIn(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	s := sceneWith(1, dimmer(0), 200, Speeds{FadeIn: 100})
	require.NoError(t, tm.StartFunction(s))

	require.Equal(t, []uint8{50, 100, 150, 200, 200}, ticks(tm, u, 0, 5))
	require.Equal(t, Running, s.RunState())
	require.Equal(t, uint32(125), s.Elapsed())
	require.Equal(t, 1, tm.RunningFunctions())
	require.Equal(t, 1, tm.Faders())
}

func TestSceneStopFadesOut(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	s := sceneWith(1, dimmer(0), 200, Speeds{FadeOut: 100})
	require.NoError(t, tm.StartFunction(s))
	require.Equal(t, []uint8{200}, ticks(tm, u, 0, 1))

	require.NoError(t, tm.StopFunction(s))
	require.Equal(t, []uint8{150, 100, 50, 0}, ticks(tm, u, 0, 4))
	require.Equal(t, Stopped, s.RunState())
	require.Zero(t, tm.RunningFunctions())
	require.Zero(t, tm.Faders())

	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}

	// restart after stop
	require.NoError(t, tm.StartFunction(s))
	require.Equal(t, []uint8{200}, ticks(tm, u, 0, 1))
}

func TestSceneIntensityAndDuration(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	s := sceneWith(1, dimmer(3), 200, Speeds{Duration: 50})
	s.AdjustIntensity(0.5)
	require.NoError(t, tm.StartFunction(s))

	// the stop request on the second tick hands over to a zero fade-out
	require.Equal(t, []uint8{100, 0}, ticks(tm, u, 3, 2))
	require.Equal(t, Stopped, s.RunState())
}

func TestSceneLTPKeepsValueAfterStop(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	pan := fader.ChannelKey{Universe: 0, Address: 7, Fixture: 1, Group: universe.GroupPan}
	s := sceneWith(1, pan, 90, Speeds{FadeIn: 50})
	require.NoError(t, tm.StartFunction(s))

	require.Equal(t, []uint8{45, 90}, ticks(tm, u, 7, 2))
	require.NoError(t, tm.StopFunction(s))
	require.Equal(t, []uint8{90, 90}, ticks(tm, u, 7, 2))
}

func TestRunStateTransitions(t *testing.T) {
	t.Parallel()

	tm, _ := newTestTimer(t)
	s := NewScene(1, "s")
	require.Equal(t, Idle, s.RunState())
	require.False(t, s.IsRunning())

	require.ErrorIs(t, tm.StopFunction(s), ErrInvalidTransition)
	require.ErrorIs(t, tm.PauseFunction(s, true), ErrInvalidTransition)

	require.NoError(t, tm.StartFunction(s))
	require.ErrorIs(t, tm.StartFunction(s), ErrInvalidTransition)
	require.NoError(t, tm.PauseFunction(s, true))
	require.Equal(t, PausedRunning, s.RunState())
	require.NoError(t, tm.PauseFunction(s, false))
	require.NoError(t, tm.StopFunction(s))
	require.NoError(t, tm.StopFunction(s))
	require.Equal(t, StopRequested, s.RunState())
	require.ErrorIs(t, tm.PauseFunction(s, false), ErrInvalidTransition)

	tm.Tick()
	require.Equal(t, Stopped, s.RunState())
	require.Equal(t, "stopped", s.RunState().String())
}

func TestPauseFreezesFade(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	s := sceneWith(1, dimmer(0), 200, Speeds{FadeIn: 100})
	require.NoError(t, tm.StartFunction(s))
	require.Equal(t, []uint8{50}, ticks(tm, u, 0, 1))

	require.NoError(t, tm.PauseFunction(s, true))
	require.Equal(t, []uint8{50, 50}, ticks(tm, u, 0, 2))
	require.Equal(t, uint32(25), s.Elapsed())

	require.NoError(t, tm.PauseFunction(s, false))
	require.Equal(t, []uint8{100}, ticks(tm, u, 0, 1))
}

func TestStopAndWait(t *testing.T) {
	t.Parallel()

	tm, _ := newTestTimer(t)
	s := sceneWith(1, dimmer(0), 200, Speeds{})
	require.NoError(t, tm.StopAndWait(context.Background(), s))

	require.NoError(t, tm.StartFunction(s))
	tm.Tick()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tm.StopAndWait(ctx, s)
	require.ErrorIs(t, err, ErrStopTimeout)

	errCh := make(chan error, 1)
	go func() { errCh <- tm.StopAndWait(context.Background(), s) }()
	tm.Tick()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StopAndWait did not return")
	}
	require.Equal(t, Stopped, s.RunState())
	require.NoError(t, tm.StopAndWait(context.Background(), s), "already stopped")
}

func TestStopIfRunning(t *testing.T) {
	t.Parallel()

	b := newBase(1, "f")
	require.False(t, b.stopIfRunning())
	require.Equal(t, Idle, b.RunState())

	require.NoError(t, b.start(nil))
	require.True(t, b.stopIfRunning())
	require.Equal(t, StopRequested, b.RunState())
	require.True(t, b.stopIfRunning())

	b.markStopped()
	require.False(t, b.stopIfRunning())
	require.Equal(t, Stopped, b.RunState())
}

func TestSubmitDirectValues(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	require.True(t, tm.Submit(ChannelValue{Universe: 0, Channel: 5, Value: 77}))
	require.Equal(t, []uint8{77, 77}, ticks(tm, u, 5, 2))

	require.True(t, tm.Submit(ChannelValue{Universe: 0, Channel: 5, Value: 0}))
	require.Equal(t, []uint8{0}, ticks(tm, u, 5, 1))

	for i := 0; i < inboxSize; i++ {
		tm.Submit(ChannelValue{Universe: 0, Channel: 1, Value: 1})
	}
	require.False(t, tm.Submit(ChannelValue{Universe: 0, Channel: 1, Value: 2}))
}

func TestDirectValueKeepsIntensityClassification(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	require.True(t, tm.Submit(ChannelValue{Universe: 0, Channel: 0, Value: 50}))
	tm.Tick()
	require.Equal(t, universe.GroupNothing, u.ChannelGroup(0))

	s := sceneWith(1, dimmer(0), 200, Speeds{})
	require.NoError(t, tm.StartFunction(s))
	require.Equal(t, []uint8{200, 200}, ticks(tm, u, 0, 2))
	require.Equal(t, universe.GroupIntensity, u.ChannelGroup(0))

	tm.Registry().SetGrandMasterValue(0)
	tm.Tick()
	require.Equal(t, uint8(200), u.PreGMValue(0))
	require.Equal(t, uint8(0), u.PostGMValue(0))
	require.Equal(t, universe.GroupIntensity, u.ChannelGroup(0))
}

func TestFlashScene(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	s := sceneWith(1, dimmer(1), 255, Speeds{FadeIn: 1000})

	tm.FlashScene(s, true)
	require.Equal(t, []uint8{255, 255}, ticks(tm, u, 1, 2))
	tm.FlashScene(s, false)
	require.Equal(t, []uint8{0}, ticks(tm, u, 1, 1))
}

func TestFadeOutHandoffWithOverlap(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	fast := sceneWith(1, dimmer(0), 200, Speeds{FadeOut: 100})
	slow := sceneWith(2, dimmer(0), 100, Speeds{FadeOut: 400})
	require.NoError(t, tm.StartFunction(fast))
	require.NoError(t, tm.StartFunction(slow))
	require.Equal(t, []uint8{200}, ticks(tm, u, 0, 1))

	require.NoError(t, tm.StopFunction(slow))
	require.NoError(t, tm.StopFunction(fast))

	// the slow fade-out is ambiguous against the fast one and keeps running
	// from the overflow table once the fast one has crossed it
	got := ticks(tm, u, 0, 16)
	require.Equal(t, []uint8{150, 100, 81, 75}, got[:4])
	require.Equal(t, uint8(0), got[15])
}

func chaserFixture(order RunOrder) (*Chaser, *Scene, *Scene) {
	a := sceneWith(10, dimmer(0), 255, Speeds{})
	b := sceneWith(11, dimmer(1), 255, Speeds{})
	c := NewChaser(1, "chaser")
	c.SetRunOrder(order)
	c.AddStep(ChaserStep{Function: a, Speeds: Speeds{Hold: 50}})
	c.AddStep(ChaserStep{Function: b, Speeds: Speeds{Hold: 50}})
	return c, a, b
}

func TestChaserSingleShot(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	c, a, b := chaserFixture(SingleShot)
	require.NoError(t, tm.StartFunction(c))

	tm.Tick()
	require.Equal(t, 0, c.CurrentStep())
	tm.Tick()
	require.Equal(t, uint8(255), u.PostGMValue(0))
	require.Equal(t, Running, a.RunState())

	tm.Tick()
	require.Equal(t, 1, c.CurrentStep())
	require.Equal(t, uint8(0), u.PostGMValue(0))
	require.Equal(t, Stopped, a.RunState())

	tm.Tick()
	require.Equal(t, uint8(255), u.PostGMValue(1))
	require.Equal(t, Speeds{Hold: 50}, b.EffectiveSpeeds())

	tm.Tick()
	require.Equal(t, Stopped, c.RunState())
	require.Equal(t, Stopped, b.RunState())
	require.Equal(t, uint8(0), u.PostGMValue(1))
	require.Equal(t, Speeds{}, b.EffectiveSpeeds())
}

func TestChaserLoops(t *testing.T) {
	t.Parallel()

	tm, u := newTestTimer(t)
	c, a, _ := chaserFixture(Loop)
	require.NoError(t, tm.StartFunction(c))

	for i := 0; i < 5; i++ {
		tm.Tick()
	}
	require.Equal(t, 0, c.CurrentStep())
	require.Equal(t, Running, c.RunState())

	tm.Tick()
	require.Equal(t, uint8(255), u.PostGMValue(0))
	require.Equal(t, uint8(0), u.PostGMValue(1))

	require.NoError(t, tm.StopFunction(c))
	tm.Tick()
	require.Equal(t, Stopped, c.RunState())
	require.Equal(t, Stopped, a.RunState())
	require.Equal(t, uint8(0), u.PostGMValue(0))
}

func TestEmptyChaserStops(t *testing.T) {
	t.Parallel()

	tm, _ := newTestTimer(t)
	c := NewChaser(1, "empty")
	require.NoError(t, tm.StartFunction(c))
	tm.Tick()
	require.Equal(t, Stopped, c.RunState())
}

func TestRunLoopWithFakeClock(t *testing.T) {
	t.Parallel()

	reg := universe.NewRegistry(nil)
	id, _ := reg.AddUniverse(0)
	out := &recordingOutput{}
	require.True(t, reg.SetOutputPatch(id, out))

	fake := testingclock.NewFakeClock(time.Now())
	tm := NewMasterTimer(reg, 25, fake, nil)
	require.NoError(t, tm.Start(context.Background()))
	require.True(t, errors.Is(tm.Start(context.Background()), ErrAlreadyStarted))

	require.Eventually(t, fake.HasWaiters, time.Second, time.Millisecond)
	for i := 1; i <= 3; i++ {
		fake.Step(25 * time.Millisecond)
		want := uint64(i)
		require.Eventually(t, func() bool { return tm.Ticks() == want }, time.Second, time.Millisecond)
	}

	tm.Stop()
	tm.Stop()
	require.Equal(t, uint64(3), tm.Ticks())

	out.mu.Lock()
	require.Equal(t, 3, out.dumps)
	out.mu.Unlock()
}
