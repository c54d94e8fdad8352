package events

import (
	"bufio"
	"bytes"
	"io"
)

const maxLineSize = 64 * 1024

// Reader pulls events off a push channel body. It accepts both plain
// line-delimited JSON and server-sent-event framing, where the payload
// rides on "data:" lines and a blank line ends the event.
type Reader struct {
	scanner *bufio.Scanner
	pending bytes.Buffer
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &Reader{scanner: sc}
}

// Next returns the raw JSON of the next event. io.EOF marks a clean end of
// stream.
func (r *Reader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimRight(r.scanner.Bytes(), "\r")

		switch {
		case len(line) == 0:
			if r.pending.Len() > 0 {
				return r.flush(), nil
			}
		case line[0] == ':':
			// comment / keep-alive
		case bytes.HasPrefix(line, []byte("data:")):
			if r.pending.Len() > 0 {
				r.pending.WriteByte('\n')
			}
			r.pending.Write(bytes.TrimSpace(line[len("data:"):]))
		case bytes.HasPrefix(line, []byte("event:")),
			bytes.HasPrefix(line, []byte("id:")),
			bytes.HasPrefix(line, []byte("retry:")):
		default:
			if r.pending.Len() > 0 {
				// bare JSON after an unterminated data block
				out := r.flush()
				r.pending.Write(line)
				return out, nil
			}
			return append([]byte(nil), line...), nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if r.pending.Len() > 0 {
		return r.flush(), nil
	}
	return nil, io.EOF
}

func (r *Reader) flush() []byte {
	out := append([]byte(nil), r.pending.Bytes()...)
	r.pending.Reset()
	return out
}
