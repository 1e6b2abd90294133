package frame

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Reader reads successive frames from a byte stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadFrame returns the next envelope. It returns io.EOF only at a clean
// frame boundary and io.ErrUnexpectedEOF if the stream ends mid-frame.
// A stream position starting with '{', after any ASCII whitespace, is read
// as one un-framed JSON object.
func (r *Reader) ReadFrame() ([]byte, error) {
	if err := r.skipSpace(); err != nil {
		return nil, err
	}

	hdr, err := r.br.Peek(HeaderSize)
	if len(hdr) > 0 && hdr[0] == '{' {
		return r.readJSON()
	}
	if err != nil {
		if err == io.EOF && len(hdr) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr)
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: prefix %d, max %d", ErrFrameTooLarge, n, MaxFrameSize)
	}

	if _, err := r.br.Discard(HeaderSize); err != nil {
		return nil, err
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.br, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// skipSpace drops whitespace between un-framed JSON objects. A length
// prefix never starts with one of these bytes: each would put it above
// MaxFrameSize.
func (r *Reader) skipSpace() error {
	for {
		b, err := r.br.Peek(1)
		if err != nil {
			return err
		}
		switch b[0] {
		case ' ', '\t', '\n', '\r':
			if _, err := r.br.Discard(1); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *Reader) readJSON() ([]byte, error) {
	dec := json.NewDecoder(io.LimitReader(r.br, MaxFrameSize+1))
	var raw json.RawMessage
	err := dec.Decode(&raw)
	// Re-attach whatever the decoder buffered past the object.
	r.br = bufio.NewReader(io.MultiReader(dec.Buffered(), r.br))
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("frame: un-framed json: %w", err)
	}
	if len(raw) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, len(raw), MaxFrameSize)
	}
	return raw, nil
}

// Writer writes frames to a byte stream. It is not safe for concurrent use.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes envelope as a single frame.
func (w *Writer) WriteFrame(envelope []byte) error {
	out, err := Encode(envelope)
	if err != nil {
		return err
	}
	_, err = w.w.Write(out)
	return err
}
