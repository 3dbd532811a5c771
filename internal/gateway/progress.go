package gateway

import (
	"io"
	"sync"
)

// ProgressReader wraps an upload body and reports whole-percent changes
type ProgressReader struct {
	reader io.Reader
	fn     ProgressFunc
	total  int64

	mu      sync.Mutex
	current int64
	last    int
}

// NewProgressReader reports progress of reading total bytes from reader to fn.
// A nil fn is allowed.
func NewProgressReader(reader io.Reader, total int64, fn ProgressFunc) *ProgressReader {
	return &ProgressReader{reader: reader, fn: fn, total: total, last: -1}
}

// Read implements io.Reader
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.advance(int64(n))
	}
	return n, err
}

// Seek rewinds progress along with the body when the wrapped reader supports it,
// so transport retries can replay the upload.
func (pr *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	seeker, ok := pr.reader.(io.Seeker)
	if !ok {
		return 0, io.ErrUnexpectedEOF
	}
	pos, err := seeker.Seek(offset, whence)
	if err == nil {
		pr.mu.Lock()
		pr.current = pos
		pr.mu.Unlock()
	}
	return pos, err
}

func (pr *ProgressReader) advance(n int64) {
	pr.mu.Lock()
	pr.current += n
	pct := Percent(pr.current, pr.total)
	report := pct > pr.last
	if report {
		pr.last = pct
	}
	pr.mu.Unlock()

	if report && pr.fn != nil {
		pr.fn(pct)
	}
}

// Percent converts a byte count into a whole percentage clamped to [0,100].
// An unknown total reports 0 until completion.
func Percent(current, total int64) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int(current * 100 / total)
}
