package observe

import (
	"bufio"
	"errors"
	"io"
	"unicode/utf8"
)

// MaxLineBytes caps a single line of worker output. Anything past the cap
// up to the next newline is dropped.
const MaxLineBytes = 64 * 1024

// LineReader reads newline-terminated lines from an untrusted stream
// without letting a single line grow memory past a fixed cap.
type LineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader wraps r with the default line cap
func NewLineReader(r io.Reader) *LineReader {
	return NewLineReaderSize(r, MaxLineBytes)
}

// NewLineReaderSize wraps r with a custom line cap
func NewLineReaderSize(r io.Reader, max int) *LineReader {
	if max < 16 {
		max = 16
	}
	return &LineReader{r: bufio.NewReaderSize(r, 4096), max: max}
}

// ReadLine returns the next line including its trailing newline.
// A final unterminated line gets a newline appended. Returns io.EOF
// once the stream is exhausted.
func (lr *LineReader) ReadLine() (string, error) {
	var line []byte
	truncated := false

	for {
		chunk, err := lr.r.ReadSlice('\n')
		if !truncated {
			room := lr.max - len(line)
			if len(chunk) > room {
				line = trimPartialRune(append(line, chunk[:room]...))
				truncated = true
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			if truncated {
				line = append(line, '\n')
			}
			return string(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return "", io.EOF
			}
			if line[len(line)-1] != '\n' {
				line = append(line, '\n')
			}
			return string(line), nil
		default:
			if len(line) > 0 {
				if line[len(line)-1] != '\n' {
					line = append(line, '\n')
				}
				return string(line), nil
			}
			return "", err
		}
	}
}

// trimPartialRune drops a multi-byte rune cut short at the end of b
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			return b
		}
	}
	return b
}
