package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
)

const (
	flagChecksumPresent uint32 = 1 << 0
	flagMoreToCome      uint32 = 1 << 1

	sectionKindBody     = 0
	sectionKindDocSeq   = 1
	checksumLen         = 4
	sectionSizeFieldLen = 4
)

// ErrUnsupportedOpcode is returned when a message declares an opcode this
// server does not speak.
var ErrUnsupportedOpcode = errors.New("wire: unsupported opcode")

// ErrUnsupportedSectionKind is returned for any OP_MSG section kind other
// than 0 (body) or 1 (document sequence).
var ErrUnsupportedSectionKind = errors.New("wire: unsupported OP_MSG section kind")

// OpMsgRequest is the decoded form of an OP_MSG message: the single body
// document with any kind-1 document-sequence sections merged into it
// under their identifier field.
type OpMsgRequest struct {
	Header   Header
	FlagBits uint32
	Body     bsonkit.Doc
}

// MoreToCome reports the exhaust-cursor streaming bit (used by hello's
// topology-change awaitable variant); jongodb never sets it on responses.
func (m *OpMsgRequest) MoreToCome() bool {
	return m.FlagBits&flagMoreToCome != 0
}

// DecodeOpMsg parses the body of an OP_MSG message (the bytes following
// the 16-byte header, up to header.MessageLength) into an OpMsgRequest.
func DecodeOpMsg(header Header, wmBody []byte) (*OpMsgRequest, error) {
	if header.OpCode != OpMsg {
		return nil, ErrUnsupportedOpcode
	}
	if len(wmBody) < 4 {
		return nil, fmt.Errorf("wire: OP_MSG body shorter than the flagBits field")
	}
	flagBits := binary.LittleEndian.Uint32(wmBody[0:4])
	sections := wmBody[4:]

	payloadLimit := len(sections)
	if flagBits&flagChecksumPresent != 0 {
		if payloadLimit < checksumLen {
			return nil, fmt.Errorf("wire: OP_MSG flags declare a checksum but the message is too short to hold one")
		}
		payloadLimit -= checksumLen
	}
	if payloadLimit < 0 || payloadLimit > len(sections) {
		return nil, fmt.Errorf("wire: OP_MSG payload limit out of range")
	}

	window := sections[:payloadLimit]

	var body bsonkit.Doc
	haveBody := false

	for len(window) > 0 {
		kind := window[0]
		window = window[1:]
		switch kind {
		case sectionKindBody:
			if haveBody {
				return nil, fmt.Errorf("wire: OP_MSG declares more than one kind-0 section")
			}
			docBytes, rest, err := sliceDoc(window)
			if err != nil {
				return nil, err
			}
			var d bsonkit.Doc
			if err := bson.Unmarshal(docBytes, &d); err != nil {
				return nil, fmt.Errorf("wire: malformed OP_MSG body: %w", err)
			}
			body = d
			haveBody = true
			window = rest
		case sectionKindDocSeq:
			if len(window) < sectionSizeFieldLen {
				return nil, fmt.Errorf("wire: OP_MSG section-1 missing its size field")
			}
			sectionSize := int(binary.LittleEndian.Uint32(window[:sectionSizeFieldLen]))
			if sectionSize < sectionSizeFieldLen || sectionSize > len(window) {
				return nil, fmt.Errorf("wire: OP_MSG section-1 declares size %d but only %d bytes remain", sectionSize, len(window))
			}
			sectionBytes := window[sectionSizeFieldLen:sectionSize]
			window = window[sectionSize:]

			identifier, remainder, err := cstring(sectionBytes)
			if err != nil {
				return nil, err
			}
			var docs bson.A
			for len(remainder) > 0 {
				docBytes, rest, err := sliceDoc(remainder)
				if err != nil {
					return nil, err
				}
				var d bsonkit.Doc
				if err := bson.Unmarshal(docBytes, &d); err != nil {
					return nil, fmt.Errorf("wire: malformed document in section sequence %q: %w", identifier, err)
				}
				docs = append(docs, d)
				remainder = rest
			}
			body = mergeSequence(body, identifier, docs)
		default:
			return nil, ErrUnsupportedSectionKind
		}
	}

	if !haveBody {
		return nil, fmt.Errorf("wire: OP_MSG has no kind-0 body section")
	}

	if flagBits&flagChecksumPresent != 0 {
		// Structural presence is validated above; verifying the trailing
		// bytes against a CRC32C is intentionally not implemented.
		_ = sections[payloadLimit : payloadLimit+checksumLen]
	}

	return &OpMsgRequest{Header: header, FlagBits: flagBits, Body: body}, nil
}

// mergeSequence appends a decoded document sequence into body under
// identifier, creating the array if absent and appending to it if the
// field is already an array.
func mergeSequence(body bsonkit.Doc, identifier string, docs bson.A) bsonkit.Doc {
	for i, e := range body {
		if e.Key != identifier {
			continue
		}
		if existing, ok := e.Value.(bson.A); ok {
			out := make(bsonkit.Doc, len(body))
			copy(out, body)
			out[i].Value = append(append(bson.A{}, existing...), docs...)
			return out
		}
	}
	out := make(bsonkit.Doc, len(body), len(body)+1)
	copy(out, body)
	return append(out, bson.E{Key: identifier, Value: docs})
}

// OpMsgResponse is what the dispatcher hands back to the codec: exactly
// one kind-0 section, no document sequences, no checksum.
type OpMsgResponse struct {
	FlagBits uint32
	Body     bsonkit.Doc
}

// EncodeOpMsg serializes an OP_MSG response with header fields requestID
// and responseTo.
func EncodeOpMsg(resp OpMsgResponse, requestID, responseTo int32) ([]byte, error) {
	bodyBytes, err := bson.Marshal(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("wire: failed to encode OP_MSG body: %w", err)
	}

	total := headerLen + 4 /*flagBits*/ + 1 /*section kind*/ + len(bodyBytes)
	buf := make([]byte, total)
	putHeader(buf, int32(total), requestID, responseTo, OpMsg)
	binary.LittleEndian.PutUint32(buf[headerLen:headerLen+4], resp.FlagBits)
	buf[headerLen+4] = sectionKindBody
	copy(buf[headerLen+5:], bodyBytes)
	return buf, nil
}
