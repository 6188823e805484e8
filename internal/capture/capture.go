// Package capture records raw serial lines to a CBOR file and reads them
// back for replay.
package capture

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction tells whether a line came from the robot or was sent to it.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Record is one captured line. Integer keys keep the file compact.
type Record struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	// Session is a UUID assigned each time a port is (re)connected.
	Session   string    `cbor:"2,keyasint"`
	Port      string    `cbor:"3,keyasint,omitempty"`
	Direction Direction `cbor:"4,keyasint"`
	Line      string    `cbor:"5,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: decoder mode: %v", err))
	}
}

// NewEncoder returns a record encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a record decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
