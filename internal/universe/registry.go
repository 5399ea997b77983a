package universe

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"lightcore/internal/logger"
)

// Set is the view of the universes handed out by ClaimUniverses.
type Set map[uint32]*Universe

// Sorted returns the universes ordered by id.
func (s Set) Sorted() []*Universe {
	ids := maps.Keys(s)
	slices.Sort(ids)
	out := make([]*Universe, 0, len(ids))
	for _, id := range ids {
		out = append(out, s[id])
	}
	return out
}

// WrittenFunc is called after a dump for every universe whose output changed.
type WrittenFunc func(universe uint32, data []byte)

// Registry owns every Universe and the shared GrandMaster. All mutations
// happen under its mutex; listeners are invoked after it is released.
type Registry struct {
	log *logger.Log

	mu        sync.Mutex
	universes map[uint32]*Universe
	latest    uint32
	blackout  bool
	gm        *GrandMaster

	listenersMu sync.RWMutex
	onWritten   []WrittenFunc
	onInput     []InputHandler
}

// NewRegistry returns an empty registry with a full grand master.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		log:       logger.OrDiscard(log).Module("universe"),
		universes: make(map[uint32]*Universe),
		latest:    Invalid,
		gm:        NewGrandMaster(),
	}
}

func (r *Registry) sortedLocked() []*Universe {
	return Set(r.universes).Sorted()
}

// AddUniverse creates a universe. Passing Invalid, or an id below the highest
// one added so far, assigns the next free id. The second result is false if
// the id is already taken.
func (r *Registry) AddUniverse(id uint32) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case id == Invalid:
		r.latest++
		id = r.latest
	case r.latest == Invalid || id >= r.latest:
		r.latest = id
	default:
		r.latest++
		id = r.latest
	}

	if _, ok := r.universes[id]; ok {
		r.log.Warnf("universe %d already exists", id)
		return id, false
	}
	r.universes[id] = New(id, r.gm)
	r.log.Debugf("universe %d added", id)
	return id, true
}

// RemoveUniverse deletes a universe and closes its input patch.
func (r *Registry) RemoveUniverse(id uint32) bool {
	r.mu.Lock()
	u, ok := r.universes[id]
	if ok {
		delete(r.universes, id)
	}
	r.mu.Unlock()

	if !ok {
		r.log.Warnf("universe %d does not exist", id)
		return false
	}
	if u.inputPatch != nil {
		u.inputPatch.Close()
	}
	r.log.Debugf("universe %d removed", id)
	return true
}

// RemoveAllUniverses deletes every universe and resets the id watermark.
func (r *Registry) RemoveAllUniverses() {
	r.mu.Lock()
	removed := r.universes
	r.universes = make(map[uint32]*Universe)
	r.latest = Invalid
	r.mu.Unlock()

	for _, u := range removed {
		if u.inputPatch != nil {
			u.inputPatch.Close()
		}
	}
}

// NextUniverseID returns the id following id in order, or Invalid if id is
// the last one or unknown.
func (r *Registry) NextUniverseID(id uint32) uint32 {
	ids := r.IDs()
	i := slices.Index(ids, id)
	if i < 0 || i+1 >= len(ids) {
		return Invalid
	}
	return ids[i+1]
}

// IDs returns the universe ids in order.
func (r *Registry) IDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := maps.Keys(r.universes)
	slices.Sort(ids)
	return ids
}

// Universe returns the universe with the given id, or nil.
func (r *Registry) Universe(id uint32) *Universe {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.universes[id]
}

// Count returns the number of universes.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.universes)
}

// ClaimUniverses locks the registry and returns the universes for writing.
// Every call must be paired with ReleaseUniverses.
func (r *Registry) ClaimUniverses() Set {
	r.mu.Lock()
	set := make(Set, len(r.universes))
	for id, u := range r.universes {
		set[id] = u
	}
	return set
}

// ReleaseUniverses commits the claimed universes when changed is true and
// unlocks the registry.
func (r *Registry) ReleaseUniverses(changed bool) {
	if changed {
		for _, u := range r.universes {
			u.Commit()
		}
	}
	r.mu.Unlock()
}

// ResetUniverses zeroes every universe and restores the grand master.
func (r *Registry) ResetUniverses() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.universes {
		u.Reset()
	}
	r.gm.setValue(255)
	r.gm.setValueMode(Reduce)
	r.gm.setChannelMode(IntensityChannels)
}

type writtenFrame struct {
	id   uint32
	data []byte
}

// Dump sends every universe to its output patch and notifies the written
// listeners for the ones whose output changed. Nothing is sent while
// blackout is on.
func (r *Registry) Dump() {
	var written []writtenFrame

	r.mu.Lock()
	if r.blackout {
		r.mu.Unlock()
		return
	}
	for _, u := range r.sortedLocked() {
		u.Commit()
		data := u.PostGMValues()
		if u.outputPatch != nil {
			u.outputPatch.Dump(u.id, data)
		}
		if u.changed {
			written = append(written, writtenFrame{id: u.id, data: data})
			u.changed = false
		}
	}
	r.mu.Unlock()

	for _, f := range written {
		r.notifyWritten(f.id, f.data)
	}
}

// Blackout reports whether blackout is on.
func (r *Registry) Blackout() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blackout
}

// SetBlackout switches blackout. Turning it on sends an all zero frame of
// full size to every output; turning it off sends the last committed frame
// again. The written listeners see the same frames.
func (r *Registry) SetBlackout(on bool) bool {
	var written []writtenFrame

	r.mu.Lock()
	if r.blackout == on {
		r.mu.Unlock()
		return false
	}
	r.blackout = on
	r.log.Infof("blackout %v", on)

	for _, u := range r.sortedLocked() {
		data := u.PostGMValues()
		if on {
			data = make([]byte, u.Channels())
		}
		if u.outputPatch != nil {
			u.outputPatch.Dump(u.id, data)
		}
		written = append(written, writtenFrame{id: u.id, data: data})
	}
	r.mu.Unlock()

	for _, f := range written {
		r.notifyWritten(f.id, f.data)
	}
	return true
}

// ToggleBlackout flips blackout and returns the new state.
func (r *Registry) ToggleBlackout() bool {
	on := !r.Blackout()
	r.SetBlackout(on)
	return on
}

// GrandMasterValue returns the grand master value.
func (r *Registry) GrandMasterValue() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gm.Value()
}

// GrandMasterValueMode returns the grand master value mode.
func (r *Registry) GrandMasterValueMode() ValueMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gm.ValueMode()
}

// GrandMasterChannelMode returns the grand master channel mode.
func (r *Registry) GrandMasterChannelMode() ChannelMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gm.ChannelMode()
}

// SetGrandMasterValue changes the grand master and recommits every universe.
func (r *Registry) SetGrandMasterValue(v uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gm.setValue(v) {
		r.commitLocked()
	}
}

// SetGrandMasterValueMode changes the grand master value mode.
func (r *Registry) SetGrandMasterValueMode(m ValueMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gm.setValueMode(m) {
		r.commitLocked()
	}
}

// SetGrandMasterChannelMode changes the grand master channel mode.
func (r *Registry) SetGrandMasterChannelMode(m ChannelMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gm.setChannelMode(m) {
		r.commitLocked()
	}
}

func (r *Registry) commitLocked() {
	for _, u := range r.universes {
		u.Commit()
	}
}

// SetName renames a universe.
func (r *Registry) SetName(id uint32, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.universes[id]
	if !ok {
		return false
	}
	u.SetName(name)
	return true
}

// SetPassthrough enables input passthrough on a universe.
func (r *Registry) SetPassthrough(id uint32, on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.universes[id]
	if !ok {
		return false
	}
	u.SetPassthrough(on)
	return true
}

// SetOutputPatch attaches p to the universe; nil detaches it.
func (r *Registry) SetOutputPatch(id uint32, p OutputPatch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.universes[id]
	if !ok {
		return false
	}
	u.outputPatch = p
	return true
}

// SetFeedbackPatch attaches p to the universe; nil detaches it.
func (r *Registry) SetFeedbackPatch(id uint32, p FeedbackPatch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.universes[id]
	if !ok {
		return false
	}
	u.feedbackPatch = p
	return true
}

// SetInputPatch attaches p to the universe, closing the previous one. Values
// p delivers land in the universe input buffer and reach the input listeners.
func (r *Registry) SetInputPatch(id uint32, p InputPatch) error {
	r.mu.Lock()
	u, ok := r.universes[id]
	if !ok {
		r.mu.Unlock()
		return ErrNoUniverse
	}
	old := u.inputPatch
	u.inputPatch = p
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if p == nil {
		return nil
	}
	return p.Open(r.inputValueChanged)
}

// SendFeedback forwards a value to the universe feedback patch.
func (r *Registry) SendFeedback(id, channel uint32, value uint8) bool {
	r.mu.Lock()
	u, ok := r.universes[id]
	var p FeedbackPatch
	if ok {
		p = u.feedbackPatch
	}
	r.mu.Unlock()

	if p == nil {
		return false
	}
	p.SendFeedback(id, channel, value)
	return true
}

// FlushInputs zeroes the input buffer of every universe.
func (r *Registry) FlushInputs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.universes {
		u.flushInput()
	}
}

func (r *Registry) inputValueChanged(id, channel uint32, value uint8) {
	r.mu.Lock()
	u, ok := r.universes[id]
	changed := ok && u.setInputValue(channel, value)
	r.mu.Unlock()

	if !changed {
		return
	}
	r.listenersMu.RLock()
	handlers := r.onInput
	r.listenersMu.RUnlock()
	for _, h := range handlers {
		h(id, channel, value)
	}
}

// OnUniversesWritten registers fn for changed universe frames.
func (r *Registry) OnUniversesWritten(fn WrittenFunc) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.onWritten = append(r.onWritten, fn)
}

// OnInputValueChanged registers fn for changed input channels.
func (r *Registry) OnInputValueChanged(fn InputHandler) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.onInput = append(r.onInput, fn)
}

func (r *Registry) notifyWritten(id uint32, data []byte) {
	r.listenersMu.RLock()
	handlers := r.onWritten
	r.listenersMu.RUnlock()
	for _, h := range handlers {
		h(id, data)
	}
}
