package writer

import (
	"bytes"
	"sync"
)

// LimitedBuffer keeps the first maxSize bytes written to it and counts the
// rest. It backs the response preview shown in verbose request logs.
type LimitedBuffer struct {
	mu        sync.RWMutex
	buffer    bytes.Buffer
	maxSize   int
	totalSize int64 // Total size of all data written, stored or not
}

// NewLimitedBuffer creates a new LimitedBuffer with the specified maximum size
func NewLimitedBuffer(maxSize int) *LimitedBuffer {
	if maxSize < 0 {
		maxSize = 0
	}
	return &LimitedBuffer{
		maxSize: maxSize,
	}
}

// Write stores as much of p as fits and counts all of it. Bytes past the
// limit are dropped, so it always reports len(p) written.
func (lb *LimitedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.totalSize += int64(len(p))

	if available := lb.maxSize - lb.buffer.Len(); available > 0 {
		if len(p) > available {
			lb.buffer.Write(p[:available])
		} else {
			lb.buffer.Write(p)
		}
	}
	return len(p), nil
}

// Bytes returns a copy of the buffered content
func (lb *LimitedBuffer) Bytes() []byte {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return bytes.Clone(lb.buffer.Bytes())
}

// Len returns the number of bytes currently stored in the buffer
func (lb *LimitedBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.buffer.Len()
}

// Cap returns the maximum capacity of the buffer
func (lb *LimitedBuffer) Cap() int {
	return lb.maxSize
}

// TotalSize returns the total size of all data written, including the dropped part
func (lb *LimitedBuffer) TotalSize() int64 {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.totalSize
}
