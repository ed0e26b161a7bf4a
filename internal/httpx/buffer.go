package httpx

// Buffer is the per-connection growable receive buffer: starts at 2 KiB and
// grows by 2 KiB whenever it is at least 75% full, matching the original
// server's socket_buffer growth policy exactly.
type Buffer struct {
	data []byte
	n    int // bytes currently held
}

const (
	initialBufferSize = 2 * 1024
	bufferGrowth      = 2 * 1024
	growThreshold     = 0.75
)

// NewBuffer allocates a Buffer at its initial size.
func NewBuffer() *Buffer {
	return &Buffer{data: make([]byte, initialBufferSize)}
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int { return b.n }

// Bytes returns the bytes currently held (valid until the next Append).
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Append appends p, growing the backing array first if doing so would
// leave the buffer at or above growThreshold full.
func (b *Buffer) Append(p []byte) {
	b.growIfNeeded(len(p))
	b.n += copy(b.data[b.n:], p)
}

// growIfNeeded grows the buffer by bufferGrowth increments until it can
// hold incoming bytes without crossing growThreshold, mirroring the
// original's "grow by 2 KiB once >=75% full" rule rather than a doubling
// strategy.
func (b *Buffer) growIfNeeded(incoming int) {
	for float64(b.n+incoming) >= float64(len(b.data))*growThreshold || b.n+incoming > len(b.data) {
		grown := make([]byte, len(b.data)+bufferGrowth)
		copy(grown, b.data[:b.n])
		b.data = grown
	}
}

// Reset clears the buffer for reuse without releasing the backing array.
func (b *Buffer) Reset() { b.n = 0 }

// Consume drops the first n bytes, shifting any remainder to the front —
// used once a complete request has been extracted from the buffer (no
// pipelining is expected, but this keeps the contract general).
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= b.n {
		b.n = 0
		return
	}
	copy(b.data, b.data[n:b.n])
	b.n -= n
}
