package capture

// Pool is a fixed free list of sample buffers shared between the real-time
// callback and the goroutine that consumes frames.
//
// Buffers are allocated up front so that [Accumulator.Write] normally runs
// without touching the allocator. Get and Put never block.
type Pool struct {
	free chan []float32
	size int
}

// NewPool preallocates n buffers of size samples each.
func NewPool(n, size int) *Pool {
	if n < 0 {
		n = 0
	}
	p := &Pool{free: make(chan []float32, n), size: size}
	for range n {
		p.free <- make([]float32, size)
	}
	return p
}

// Get returns a buffer of length Size. When the pool is exhausted a new
// buffer is allocated.
func (p *Pool) Get() []float32 {
	select {
	case b := <-p.free:
		return b[:p.size]
	default:
		return make([]float32, p.size)
	}
}

// Put returns buf to the pool. Buffers with the wrong capacity and buffers
// beyond the pool bound are left to the garbage collector.
func (p *Pool) Put(buf []float32) {
	if cap(buf) != p.size {
		return
	}
	select {
	case p.free <- buf[:p.size]:
	default:
	}
}

// Size returns the length of buffers handed out by Get.
func (p *Pool) Size() int { return p.size }

// Available returns the number of idle buffers.
func (p *Pool) Available() int { return len(p.free) }
