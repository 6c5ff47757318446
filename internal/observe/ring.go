package observe

// Ring keeps the most recent lines of output, oldest evicted first.
// Capacity is fixed at construction.
type Ring struct {
	lines []string
	start int
	size  int
}

// NewRing creates a ring with the given capacity (minimum 1)
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{lines: make([]string, capacity)}
}

// Push appends a line, evicting the oldest once full
func (r *Ring) Push(line string) {
	if r.size < len(r.lines) {
		r.lines[(r.start+r.size)%len(r.lines)] = line
		r.size++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % len(r.lines)
}

// Len returns the number of buffered lines
func (r *Ring) Len() int {
	return r.size
}

// Cap returns the ring capacity
func (r *Ring) Cap() int {
	return len(r.lines)
}

// Lines returns buffered lines, oldest first
func (r *Ring) Lines() []string {
	out := make([]string, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

// Clear drops all buffered lines and releases their memory
func (r *Ring) Clear() {
	for i := range r.lines {
		r.lines[i] = ""
	}
	r.start = 0
	r.size = 0
}
