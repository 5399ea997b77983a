package engine

import (
	"sync"

	"lightcore/internal/fader"
	"lightcore/internal/universe"
)

// SceneValue is one channel level held by a scene.
type SceneValue struct {
	Key     fader.ChannelKey
	Value   uint8
	CanFade bool
}

// Scene holds a fixed set of channel levels. It fades them in when started
// and hands its intensity channels to the fade-out fader when stopped.
type Scene struct {
	*Base

	mu     sync.Mutex
	values []SceneValue

	fader     *fader.GenericFader
	valuesSet bool
}

// NewScene returns an empty scene.
func NewScene(id uint32, name string) *Scene {
	return &Scene{Base: newBase(id, name)}
}

// SetValue adds v, replacing the value already held for its channel.
func (s *Scene) SetValue(v SceneValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.values {
		if s.values[i].Key == v.Key {
			s.values[i] = v
			return
		}
	}
	s.values = append(s.values, v)
}

// UnsetValue drops the value held for key.
func (s *Scene) UnsetValue(key fader.ChannelKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.values {
		if s.values[i].Key == key {
			s.values = append(s.values[:i], s.values[i+1:]...)
			return true
		}
	}
	return false
}

// Values returns a copy of the scene values in insertion order.
func (s *Scene) Values() []SceneValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SceneValue(nil), s.values...)
}

func (s *Scene) flashChannels() []fader.FadeChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fader.FadeChannel, 0, len(s.values))
	for _, v := range s.values {
		fc := fader.NewFadeChannel(v.Key)
		fc.Start, fc.Current, fc.Target = v.Value, v.Value, v.Value
		fc.Flashing = true
		fc.CanFade = false
		out = append(out, fc)
	}
	return out
}

func (s *Scene) PreRun(t *MasterTimer) {
	s.fader = t.RegisterFader(s.Name())
	s.fader.SetBlendMode(s.BlendMode())
	s.fader.AdjustIntensity(s.Intensity())
	s.valuesSet = false
}

func (s *Scene) Write(t *MasterTimer, set universe.Set) {
	paused := s.IsPaused()
	s.fader.SetPaused(paused)
	if paused {
		return
	}

	if !s.valuesSet {
		fadeIn := s.EffectiveSpeeds().FadeIn
		for _, v := range s.Values() {
			fc := fader.NewFadeChannel(v.Key)
			if v.Key.Group != universe.GroupIntensity {
				if u, ok := set[v.Key.Universe]; ok {
					fc.Start = u.PreGMValue(v.Key.Address)
					fc.Current = fc.Start
				}
			}
			fc.Target = v.Value
			fc.CanFade = v.CanFade
			if v.CanFade {
				fc.FadeTime = fadeIn
			}
			s.fader.Add(fc)
		}
		s.valuesSet = true
	}
	s.fader.AdjustIntensity(s.Intensity())

	s.incrementElapsed(t.TickMS())
	if d := s.EffectiveSpeeds().Duration; d > 0 && s.Elapsed() >= d {
		_ = s.requestStop()
	}
}

func (s *Scene) PostRun(t *MasterTimer, _ universe.Set) {
	if s.fader == nil {
		return
	}
	t.FadeOutFader().FadeOut(s.fader, s.Intensity(), s.EffectiveSpeeds().FadeOut)
	s.fader.RequestDelete()
	s.fader = nil
}
