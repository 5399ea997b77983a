package fader

import (
	"lightcore/internal/logger"
	"lightcore/internal/universe"
)

// FadeOutFader collects the fade-outs of stopped writers. A fade-out that is
// ambiguous against the fade already on its channel is kept in an overflow
// table so that neither truncates the other.
type FadeOutFader struct {
	*GenericFader

	overflow map[ChannelKey]bucket
	order    []ChannelKey
}

// NewFadeOut returns an empty fade-out fader.
func NewFadeOut(tickMS uint32, log logger.Logger) *FadeOutFader {
	return &FadeOutFader{
		GenericFader: New("fade-out", tickMS, log),
		overflow:     make(map[ChannelKey]bucket),
	}
}

// FadeOut imports the Intensity fades of source, scaled by intensity, as
// fades to zero over at most fadeOutMS.
func (f *FadeOutFader) FadeOut(source *GenericFader, intensity float64, fadeOutMS uint32) {
	entries := fadeOutEntries(source, intensity, fadeOutMS)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fc := range entries {
		f.insertLocked(fc)
	}
	f.log.Debugf("imported %d fade-outs from %q over %d ms", len(entries), source.Name(), fadeOutMS)
}

// Add inserts fc, moving it to the overflow table when it is ambiguous
// against the fades already on its channel.
func (f *FadeOutFader) Add(fc FadeChannel) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(fc)
}

func (f *FadeOutFader) insertLocked(fc FadeChannel) bool {
	cur := f.buckets[fc.key]
	ambiguous := false
	for i := range cur {
		e := &cur[i]
		if dominates(e, &fc) {
			return false
		}
		if !dominates(&fc, e) {
			ambiguous = true
		}
	}
	if !ambiguous {
		return f.addLocked(fc)
	}

	kept := cur[:0]
	for i := range cur {
		if !dominates(&fc, &cur[i]) {
			kept = append(kept, cur[i])
		}
	}
	f.buckets[fc.key] = kept
	f.tryToInsertLocked(fc)
	return true
}

func (f *FadeOutFader) tryToInsertLocked(fc FadeChannel) {
	b, ok := f.overflow[fc.key]
	if !ok {
		f.order = append(f.order, fc.key)
	}
	for i := range b {
		if dominates(&fc, &b[i]) {
			b[i] = fc
			return
		}
		if dominates(&b[i], &fc) {
			return
		}
	}
	f.overflow[fc.key] = append(b, fc)
}

// OverflowCount returns the number of fades in the overflow table.
func (f *FadeOutFader) OverflowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.overflow {
		n += len(b)
	}
	return n
}

// Write advances the main fades and then every overflow fade, dropping an
// overflow fade once it reaches zero.
func (f *FadeOutFader) Write(set universe.Set) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writeLocked(set)

	order := f.order[:0]
	for _, key := range f.order {
		b := f.overflow[key]
		out := b[:0]
		for i := range b {
			fc := b[i]
			value := fc.Step(f.tick)
			f.writeChannel(set, key, value)
			if fc.Current != 0 {
				out = append(out, fc)
			}
		}
		if len(out) == 0 {
			delete(f.overflow, key)
			continue
		}
		f.overflow[key] = out
		order = append(order, key)
	}
	f.order = order
}

// RemoveAll drops every fade, overflow included.
func (f *FadeOutFader) RemoveAll() {
	f.GenericFader.RemoveAll()
	f.mu.Lock()
	f.overflow = make(map[ChannelKey]bucket)
	f.order = nil
	f.mu.Unlock()
}
