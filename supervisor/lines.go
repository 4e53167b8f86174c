package supervisor

import (
	"bufio"
	"errors"
	"io"
	"time"
)

// defaultLongLineCap is the long-line policy cap from spec.md §4.B: lines
// longer than this are emitted as multiple NodeOutput-shaped fragments
// rather than buffered unbounded.
const defaultLongLineCap = 64 * 1024

// lineFragment is one chunk of output: either a complete, newline-terminated
// line, or a capped fragment of a line still in progress.
type lineFragment struct {
	data      []byte
	at        time.Time
	continued bool
}

// scanLines reads r using a bounded buffer of size cap, emitting each
// newline-terminated line as a lineFragment and, for a producer that
// writes more than cap bytes with no newline, emitting capped
// continuation fragments so the reader never stalls or grows its buffer
// unbounded. It is grounded on the teacher's stages' bufio.Scanner usage,
// generalized (via bufio.Reader.ReadSlice) to handle the unbounded-line
// case a plain Scanner cannot.
func scanLines(r io.Reader, capBytes int, emit func(lineFragment)) error {
	if capBytes <= 0 {
		capBytes = defaultLongLineCap
	}
	br := bufio.NewReaderSize(r, capBytes)

	for {
		chunk, err := br.ReadSlice('\n')
		now := time.Now()

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			cp := make([]byte, len(chunk))
			copy(cp, chunk)
			emit(lineFragment{data: cp, at: now, continued: true})
			continue

		case errors.Is(err, io.EOF):
			if len(chunk) > 0 {
				cp := make([]byte, len(chunk))
				copy(cp, chunk)
				emit(lineFragment{data: cp, at: now, continued: false})
			}
			return nil

		case err != nil:
			return err

		default:
			line := chunk
			if n := len(line); n > 0 && line[n-1] == '\n' {
				line = line[:n-1]
				if n := len(line); n > 0 && line[n-1] == '\r' {
					line = line[:n-1]
				}
			}
			cp := make([]byte, len(line))
			copy(cp, line)
			emit(lineFragment{data: cp, at: now, continued: false})
		}
	}
}
