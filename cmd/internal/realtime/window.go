package realtime

// window remembers the most recent identities in insertion order. When full,
// the oldest identity is evicted to make room.
type window struct {
	ring []string
	next int
	full bool
	set  map[string]struct{}
}

func newWindow(size int) *window {
	if size <= 0 {
		size = dedupWindow
	}
	return &window{
		ring: make([]string, size),
		set:  make(map[string]struct{}, size),
	}
}

func (w *window) seen(id string) bool {
	_, ok := w.set[id]
	return ok
}

func (w *window) add(id string) {
	if w.seen(id) {
		return
	}
	if w.full {
		delete(w.set, w.ring[w.next])
	}
	w.ring[w.next] = id
	w.set[id] = struct{}{}
	w.next++
	if w.next == len(w.ring) {
		w.next = 0
		w.full = true
	}
}

func (w *window) len() int { return len(w.set) }

func (w *window) reset() {
	clear(w.ring)
	clear(w.set)
	w.next, w.full = 0, false
}
