package protocol

// Decoder accumulates bytes read off a socket across calls and hands back
// complete top-level frames, retaining any trailing partial frame for the
// next Feed call. This is the carry-buffer the wire boundary requires: a
// single TCP read may split a bulk-length header from its payload, or
// land in the middle of any other frame.
type Decoder struct {
	carry []byte
}

// Feed appends newly read bytes to the carry buffer and returns every
// complete top-level frame now available, in order. An error means the
// carry buffer holds malformed bytes and the connection must be closed;
// the Decoder does not recover from it.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	d.carry = append(d.carry, chunk...)

	frames, consumed, err := Decode(d.carry)
	if err != nil {
		return frames, err
	}

	if consumed == len(d.carry) {
		d.carry = d.carry[:0]
	} else {
		remaining := make([]byte, len(d.carry)-consumed)
		copy(remaining, d.carry[consumed:])
		d.carry = remaining
	}

	return frames, nil
}
