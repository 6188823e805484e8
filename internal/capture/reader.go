package capture

import (
	"errors"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Reader streams records from a capture file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	dir     *Direction
}

// NewReader opens a capture file and yields every record.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: NewDecoder(f)}, nil
}

// NewInboundReader yields only lines received from the robot.
func NewInboundReader(path string) (*Reader, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	in := DirectionIn
	r.dir = &in
	return r, nil
}

// Next returns the next matching record, or io.EOF at the end of the file.
// A truncated trailing record (e.g. after a crash) also ends the stream.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Record{}, io.EOF
			}
			return Record{}, err
		}
		if r.dir == nil || rec.Direction == *r.dir {
			return rec, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
