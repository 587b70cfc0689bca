package serialization

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

type Deserializer struct {
	r   *bytes.Reader
	err error
}

func NewDeserializer(data []byte) *Deserializer {
	return &Deserializer{r: bytes.NewReader(data)}
}

func (d *Deserializer) Read(p []byte) {
	if d.err != nil {
		return
	}
	_, d.err = io.ReadFull(d.r, p)
}

func (d *Deserializer) ReadUint64() uint64 {
	if d.err != nil {
		return 0
	}
	var u uint64
	d.err = binary.Read(d.r, binary.BigEndian, &u)
	return u
}

func (d *Deserializer) ReadInt64() int64 {
	return int64(d.ReadUint64())
}

func (d *Deserializer) ReadFloat64() float64 {
	return math.Float64frombits(d.ReadUint64())
}

func (d *Deserializer) ReadBool() bool {
	var b [1]byte
	d.Read(b[:])
	if d.err == nil && b[0] > 1 {
		d.err = fmt.Errorf("invalid bool byte %d", b[0])
	}
	return b[0] == 1
}

// ReadBytes reads from the current position to the end of the reader.
func (d *Deserializer) ReadBytes() []byte {
	if d.err != nil {
		return nil
	}
	rem := d.r.Len()
	if rem == 0 {
		return []byte{}
	}
	buf := make([]byte, rem)
	d.Read(buf)
	return buf
}

// ReadByteSlice reads a length-prefixed byte slice.
func (d *Deserializer) ReadByteSlice() []byte {
	if d.err != nil {
		return nil
	}
	// Read length as a uint32
	var length uint32
	d.err = binary.Read(d.r, binary.BigEndian, &length)
	if d.err != nil {
		return nil
	}
	if int64(length) > int64(d.r.Len()) {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	buf := make([]byte, length)
	d.Read(buf)
	return buf
}

// ReadString reads a length-prefixed string.
func (d *Deserializer) ReadString() string {
	return string(d.ReadByteSlice())
}

// Err reports the first read failure. Running out of input mid-record is an
// error; callers decide whether trailing data matters.
func (d *Deserializer) Err() error {
	if d.err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return d.err
}

// Remaining returns the number of unread bytes.
func (d *Deserializer) Remaining() int {
	return d.r.Len()
}
