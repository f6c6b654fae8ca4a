package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single frame, delimiter excluded.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("wire: frame too large")

// Encoder writes one message per line. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

func (e *Encoder) Encode(m Message) error {
	b, err := Marshal(m)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(b)
	return err
}

// Marshal renders a complete frame including the trailing newline.
func Marshal(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", m.Type, err)
	}
	return append(b, '\n'), nil
}

// Decoder reassembles frames from a byte stream.
type Decoder struct {
	sc *bufio.Scanner
	// Malformed is called for every frame that fails to parse or validate. The frame is skipped.
	Malformed func(frame []byte, err error)
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxFrameSize+1)
	return &Decoder{sc: sc}
}

// Decode blocks for the next valid message. It returns io.EOF when the stream ends cleanly.
func (d *Decoder) Decode() (Message, error) {
	for d.sc.Scan() {
		line := bytes.TrimSpace(d.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var m Message
		err := json.Unmarshal(line, &m)
		if err == nil {
			err = m.Validate()
		}
		if err != nil {
			if d.Malformed != nil {
				d.Malformed(append([]byte(nil), line...), err)
			}
			continue
		}
		return m, nil
	}
	if err := d.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Message{}, ErrFrameTooLarge
		}
		return Message{}, err
	}
	return Message{}, io.EOF
}
