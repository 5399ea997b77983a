package fader

import (
	"sync"

	"lightcore/internal/logger"
	"lightcore/internal/universe"
)

// DefaultTickMS is the step applied by Write when no tick is configured.
const DefaultTickMS = 25

// GenericFader advances a set of fades and writes the winners into the
// universes once per tick.
type GenericFader struct {
	log  *logger.Log
	name string
	tick uint32

	mu            sync.Mutex
	keys          []ChannelKey
	buckets       map[ChannelKey]bucket
	intensity     float64
	blendMode     universe.BlendMode
	paused        bool
	deleteRequest bool
}

// New returns an empty fader stepping tickMS per Write.
func New(name string, tickMS uint32, log logger.Logger) *GenericFader {
	if tickMS == 0 {
		tickMS = DefaultTickMS
	}
	return &GenericFader{
		log:       logger.OrDiscard(log).Module("fader").With(logger.Fields{"fader": name}),
		name:      name,
		tick:      tickMS,
		buckets:   make(map[ChannelKey]bucket),
		intensity: 1,
		blendMode: universe.NormalBlend,
	}
}

func (f *GenericFader) Name() string { return f.name }

// Add inserts fc under the domination rule. It returns false when an
// existing fade dominates fc.
func (f *GenericFader) Add(fc FadeChannel) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(fc)
}

func (f *GenericFader) addLocked(fc FadeChannel) bool {
	b, ok := f.buckets[fc.key]
	if !ok {
		f.keys = append(f.keys, fc.key)
	}
	b, added := b.add(fc)
	f.buckets[fc.key] = b
	return added
}

// ForceAdd appends fc without pruning.
func (f *GenericFader) ForceAdd(fc FadeChannel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[fc.key]; !ok {
		f.keys = append(f.keys, fc.key)
	}
	f.buckets[fc.key] = append(f.buckets[fc.key], fc)
}

// Replace makes fc the only fade on its channel.
func (f *GenericFader) Replace(fc FadeChannel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[fc.key]; !ok {
		f.keys = append(f.keys, fc.key)
	}
	f.buckets[fc.key] = bucket{fc}
}

// Remove drops every fade on key.
func (f *GenericFader) Remove(key ChannelKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[key]; !ok {
		return false
	}
	delete(f.buckets, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
	return true
}

// RemoveAll drops every fade.
func (f *GenericFader) RemoveAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = nil
	f.buckets = make(map[ChannelKey]bucket)
}

// CurrentValue returns the highest current value on key.
func (f *GenericFader) CurrentValue(key ChannelKey) (uint8, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[key]
	if !ok || len(b) == 0 {
		return 0, false
	}
	return b[b.winner()].Current, true
}

// CurrentValues returns current, target and elapsed of the fade with the
// highest current value on key.
func (f *GenericFader) CurrentValues(key ChannelKey) (current, target uint8, elapsed uint32, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, found := f.buckets[key]
	if !found || len(b) == 0 {
		return 0, 0, 0, false
	}
	w := &b[b.winner()]
	return w.Current, w.Target, w.Elapsed, true
}

// Channels returns a copy of every fade, keyed by channel.
func (f *GenericFader) Channels() map[ChannelKey][]FadeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[ChannelKey][]FadeChannel, len(f.buckets))
	for k, b := range f.buckets {
		out[k] = append([]FadeChannel(nil), b...)
	}
	return out
}

// Count returns the number of channels with at least one fade.
func (f *GenericFader) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets)
}

// AdjustIntensity sets the fader intensity, clamped to 0..1.
func (f *GenericFader) AdjustIntensity(fraction float64) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	f.mu.Lock()
	f.intensity = fraction
	f.mu.Unlock()
}

func (f *GenericFader) Intensity() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intensity
}

func (f *GenericFader) SetBlendMode(m universe.BlendMode) {
	f.mu.Lock()
	f.blendMode = m
	f.mu.Unlock()
}

func (f *GenericFader) BlendMode() universe.BlendMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blendMode
}

// SetPaused freezes every fade; values are still written.
func (f *GenericFader) SetPaused(paused bool) {
	f.mu.Lock()
	f.paused = paused
	f.mu.Unlock()
}

func (f *GenericFader) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

// RequestDelete asks the owner to drop this fader after its next write.
func (f *GenericFader) RequestDelete() {
	f.mu.Lock()
	f.deleteRequest = true
	f.mu.Unlock()
}

func (f *GenericFader) DeleteRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteRequest
}

// Write steps every fade by one tick and writes each channel's winner into
// set.
func (f *GenericFader) Write(set universe.Set) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeLocked(set)
}

func (f *GenericFader) writeLocked(set universe.Set) {
	dropZeros := f.blendMode == universe.NormalBlend
	keys := f.keys[:0]

	for _, key := range f.keys {
		b := f.buckets[key]
		if !f.paused {
			for i := range b {
				b[i].Step(f.tick)
			}
		}

		if len(b) > 0 {
			w := &b[b.winner()]
			value := w.Current
			if key.Group == universe.GroupIntensity && w.CanFade {
				value = w.Scaled(f.intensity)
			}
			f.writeChannel(set, key, value)
		}

		b = b.compact(dropZeros)
		if len(b) == 0 {
			delete(f.buckets, key)
			continue
		}
		f.buckets[key] = b
		keys = append(keys, key)
	}
	f.keys = keys
}

func (f *GenericFader) writeChannel(set universe.Set, key ChannelKey, value uint8) {
	u, ok := set[key.Universe]
	if !ok {
		return
	}
	u.Classify(key.Address, key.Group)
	if !u.WriteBlended(key.Address, value, f.blendMode) {
		f.log.Debugf("channel %s out of range", key)
	}
}

// FadeOut imports the Intensity fades of source, scaled by intensity, as
// fades to zero over at most fadeOutMS.
func (f *GenericFader) FadeOut(source *GenericFader, intensity float64, fadeOutMS uint32) {
	entries := fadeOutEntries(source, intensity, fadeOutMS)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fc := range entries {
		f.addLocked(fc)
	}
}

func fadeOutEntries(source *GenericFader, intensity float64, fadeOutMS uint32) []FadeChannel {
	var out []FadeChannel
	source.mu.Lock()
	defer source.mu.Unlock()

	for _, key := range source.keys {
		if key.Group != universe.GroupIntensity {
			continue
		}
		for _, src := range source.buckets[key] {
			fc := src
			fc.Start = src.Scaled(intensity)
			fc.Current = fc.Start
			fc.Elapsed = 0
			fc.ready = false
			fc.Flashing = false
			if !fc.CanFade {
				fc.FadeTime = 0
				fc.Target = fc.Current
			} else {
				if fc.FadeTime == 0 || fc.FadeTime > fadeOutMS {
					fc.FadeTime = fadeOutMS
				}
				fc.Target = 0
			}
			out = append(out, fc)
		}
	}
	return out
}
