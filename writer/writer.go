package writer

import (
	"net/http"
	"sync"
	"sync/atomic"
)

// DefaultPreviewSize is how much of the response body is kept for verbose logs.
const DefaultPreviewSize = 2 * 1024

// ResponseWriter is the response sink handed to the stages. It records the
// status and the number of body bytes relayed, knows whether the response
// has been committed, and keeps a short preview of the body.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int            // HTTP status code, 0 until the header is written
	BodyBuffer   *LimitedBuffer // Preview of the response body
	BytesWritten int64          // Total body bytes written

	previewSize     int
	writeHeaderOnce sync.Once
	headerMu        sync.Mutex // Protects StatusCode
}

// WriterOption allows customization of ResponseWriter behavior
type WriterOption func(*ResponseWriter)

// WithPreviewSize sets how many body bytes are retained for logging.
//
// Parameters:
// - size: Preview size in bytes; 0 disables the preview.
//
// Returns:
// - WriterOption: The option function
func WithPreviewSize(size int) WriterOption {
	return func(rw *ResponseWriter) {
		rw.previewSize = size
	}
}

// NewResponseWriter wraps w.
//
// Parameters:
// - w: The underlying http.ResponseWriter
// - opts: Optional configuration options
//
// Returns:
// - *ResponseWriter: The wrapped writer
func NewResponseWriter(w http.ResponseWriter, opts ...WriterOption) *ResponseWriter {
	rw := &ResponseWriter{
		ResponseWriter: w,
		previewSize:    DefaultPreviewSize,
	}
	for _, opt := range opts {
		opt(rw)
	}
	rw.BodyBuffer = NewLimitedBuffer(rw.previewSize)
	return rw
}

// WriteHeader records the status and commits the header. Only the first call
// has an effect.
//
// Parameters:
// - statusCode: The HTTP status code to write
func (rw *ResponseWriter) WriteHeader(statusCode int) {
	rw.writeHeaderOnce.Do(func() {
		rw.headerMu.Lock()
		rw.StatusCode = statusCode
		rw.headerMu.Unlock()

		rw.ResponseWriter.WriteHeader(statusCode)
	})
}

// Write relays b to the client, committing a 200 header first if needed.
//
// Parameters:
// - b: The data to write
//
// Returns:
// - int: Number of bytes written
// - error: Any error that occurred
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Sent() {
		rw.WriteHeader(http.StatusOK)
	}

	n, err := rw.ResponseWriter.Write(b)
	atomic.AddInt64(&rw.BytesWritten, int64(n))

	rw.BodyBuffer.Write(b[:n])
	return n, err
}

// Sent reports whether the status line and headers have been committed. Once
// true, the status can no longer change.
func (rw *ResponseWriter) Sent() bool {
	rw.headerMu.Lock()
	defer rw.headerMu.Unlock()
	return rw.StatusCode != 0
}

// Status returns the committed status, or 200 if nothing was written yet.
func (rw *ResponseWriter) Status() int {
	rw.headerMu.Lock()
	defer rw.headerMu.Unlock()
	if rw.StatusCode == 0 {
		return http.StatusOK
	}
	return rw.StatusCode
}

// Written returns the number of body bytes relayed so far.
func (rw *ResponseWriter) Written() int64 {
	return atomic.LoadInt64(&rw.BytesWritten)
}

// Preview returns the retained head of the response body and the size of
// the whole body it was taken from.
func (rw *ResponseWriter) Preview() ([]byte, int64) {
	return rw.BodyBuffer.Bytes(), rw.BodyBuffer.TotalSize()
}

// Flush implements the http.Flusher interface.
// Sends any buffered data to the client.
func (rw *ResponseWriter) Flush() {
	if !rw.Sent() {
		rw.WriteHeader(http.StatusOK)
	}

	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
