package compliance

// RingBuffer is a fixed-capacity window of recent observations for one
// (person, item) pair. When full, Push overwrites the oldest entry.
type RingBuffer struct {
	obs      []Observation
	head     int // next write position
	size     int
	capacity int
}

// NewRingBuffer creates a buffer; capacity below 1 is raised to 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		obs:      make([]Observation, capacity),
		capacity: capacity,
	}
}

// Push appends an observation, evicting the oldest when full.
func (rb *RingBuffer) Push(o Observation) {
	rb.obs[rb.head] = o
	rb.head = (rb.head + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
}

// Len returns the number of stored observations.
func (rb *RingBuffer) Len() int { return rb.size }

// Cap returns the buffer capacity.
func (rb *RingBuffer) Cap() int { return rb.capacity }

// Values returns the stored observations, oldest first.
func (rb *RingBuffer) Values() []Observation {
	out := make([]Observation, rb.size)
	for i := 0; i < rb.size; i++ {
		out[i] = rb.obs[(rb.head-rb.size+i+rb.capacity)%rb.capacity]
	}
	return out
}

// Latest returns the most recent observation.
func (rb *RingBuffer) Latest() (Observation, bool) {
	if rb.size == 0 {
		return Observation{}, false
	}
	return rb.obs[(rb.head-1+rb.capacity)%rb.capacity], true
}

// Clear removes all observations.
func (rb *RingBuffer) Clear() {
	rb.head = 0
	rb.size = 0
}
