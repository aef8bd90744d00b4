package wire

import "fmt"

// Message is the decoded form of an inbound wire message, regardless of
// opcode. Exactly one of OpMsg or OpQuery is non-nil.
type Message struct {
	Header  Header
	OpMsg   *OpMsgRequest
	OpQuery *OpQueryRequest
}

// Decode reads the 16-byte header from b and decodes the body according
// to the declared opcode. It mirrors the shape of a driver-side
// connection's read loop: one call per framed message.
func Decode(b []byte) (*Message, error) {
	header, err := ReadHeader(b)
	if err != nil {
		return nil, err
	}
	if int(header.MessageLength) > len(b) {
		return nil, fmt.Errorf("%w: message declares length %d but only %d bytes were read", ErrMalformedLength, header.MessageLength, len(b))
	}
	body := b[headerLen:header.MessageLength]

	switch header.OpCode {
	case OpMsg:
		m, err := DecodeOpMsg(header, body)
		if err != nil {
			return nil, err
		}
		return &Message{Header: header, OpMsg: m}, nil
	case OpQuery:
		q, err := DecodeOpQuery(header, body)
		if err != nil {
			return nil, err
		}
		return &Message{Header: header, OpQuery: q}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, header.OpCode)
	}
}
