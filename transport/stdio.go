package transport

import (
	"bufio"
	"io"
	"sync"
)

// maxLine bounds one stdio frame.
const maxLine = 1024 * 1024

// StdioTransport carries newline-delimited JSON frames over a reader and
// writer pair, usually stdin and stdout.
type StdioTransport struct {
	*stream
}

// NewStdioTransport creates a stdio transport.
func NewStdioTransport(r io.Reader, w io.Writer, cfg Config) *StdioTransport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	return &StdioTransport{stream: newStream(&lineFramer{scanner: scanner, w: w}, cfg)}
}

type lineFramer struct {
	scanner *bufio.Scanner
	mu      sync.Mutex
	w       io.Writer
}

func (f *lineFramer) ReadFrame() ([]byte, error) {
	if !f.scanner.Scan() {
		if err := f.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	// the scanner reuses its buffer
	line := f.scanner.Bytes()
	return append([]byte(nil), line...), nil
}

func (f *lineFramer) WriteFrame(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.w.Write(append(data, '\n'))
	return err
}

// Close leaves the underlying streams open; they belong to the caller.
func (f *lineFramer) Close() error { return nil }
