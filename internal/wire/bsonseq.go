package wire

import (
	"encoding/binary"
	"fmt"
)

// peekDocLength reads the 4-byte little-endian length prefix that begins
// every BSON document. It does not validate the trailing NUL terminator;
// bson.Unmarshal does that when the caller decodes the sliced bytes.
func peekDocLength(b []byte) (int32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("wire: %d bytes is too short to hold a BSON document length", len(b))
	}
	n := int32(binary.LittleEndian.Uint32(b[0:4]))
	if n < 5 {
		return 0, fmt.Errorf("wire: BSON document length %d is smaller than the minimum empty document", n)
	}
	return n, nil
}

// sliceDoc extracts one BSON document from the front of b and returns the
// remaining bytes. It fails if the declared document length exceeds len(b).
func sliceDoc(b []byte) (doc []byte, rest []byte, err error) {
	n, err := peekDocLength(b)
	if err != nil {
		return nil, nil, err
	}
	if int(n) > len(b) {
		return nil, nil, fmt.Errorf("wire: BSON document declares length %d but only %d bytes remain", n, len(b))
	}
	return b[:n], b[n:], nil
}

// cstring reads a NUL-terminated string starting at the front of b and
// returns it along with the remaining bytes.
func cstring(b []byte) (string, []byte, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], nil
		}
	}
	return "", nil, fmt.Errorf("wire: unterminated C-string")
}
