package fader

// bucket holds every fade competing for one channel, in insertion order.
type bucket []FadeChannel

// add applies the domination rule: fc is dropped if an entry dominates it,
// otherwise it replaces the entries it dominates and joins the rest.
func (b bucket) add(fc FadeChannel) (bucket, bool) {
	for i := range b {
		if dominates(&b[i], &fc) {
			return b, false
		}
	}
	out := b[:0]
	for i := range b {
		if !dominates(&fc, &b[i]) {
			out = append(out, b[i])
		}
	}
	return append(out, fc), true
}

// winner returns the index of the entry with the highest current value.
func (b bucket) winner() int {
	w := 0
	for i := 1; i < len(b); i++ {
		if b[i].Current > b[w].Current {
			w = i
		}
	}
	return w
}

// compact drops flashes, settled zeros (when dropZeros is set) and settled
// entries another entry dominates.
func (b bucket) compact(dropZeros bool) bucket {
	keep := make([]bool, len(b))
	for i := range b {
		e := &b[i]
		keep[i] = !e.Flashing && !(dropZeros && e.Current == 0 && e.Target == 0)
	}
	for i := range b {
		if !keep[i] || !b[i].ready {
			continue
		}
		for j := range b {
			if i != j && keep[j] && dominates(&b[j], &b[i]) {
				keep[i] = false
				break
			}
		}
	}

	out := b[:0]
	for i := range b {
		if keep[i] {
			out = append(out, b[i])
		}
	}
	return out
}
