package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single encoded frame body, guarding against a
// corrupt length prefix causing an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("transport: building cbor encode mode: %v", err))
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 20}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("transport: building cbor decode mode: %v", err))
	}
}

// Encoder writes length-prefixed frames to an underlying stream. Writes are
// not internally synchronized; callers serialize their own writes (the comm
// manager's outbound writer owns a single Encoder per task).
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode serializes f as CBOR and writes it prefixed by its 4-byte
// big-endian length.
func (e *Encoder) Encode(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	body, err := encMode.Marshal(&f)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := e.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := e.w.Write(body); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// Decoder reads length-prefixed frames from an underlying stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode blocks until a full frame is available, io.EOF is reached, or an
// error occurs. A malformed length prefix or a body that exceeds
// MaxFrameSize is treated as byte-level framing corruption: the caller
// should tear the task down rather than attempt to resynchronize, per
// spec.md §4.1.
func (d *Decoder) Decode() (Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Frame{}, ErrShortLengthPrefix
		}
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return Frame{}, fmt.Errorf("transport: read frame body: %w", err)
	}
	var f Frame
	if err := decMode.Unmarshal(body, &f); err != nil {
		return Frame{}, fmt.Errorf("transport: unmarshal frame: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
