package wire

import (
	"encoding/binary"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
)

// OpQueryRequest is the decoded legacy handshake/query message. jongodb
// only ever sees this opcode for the very first message some old drivers
// send before switching to OP_MSG, or for a driver pinned to a legacy
// wire version.
type OpQueryRequest struct {
	Header               Header
	Flags                int32
	FullCollectionName   string
	NumberToSkip         int32
	NumberToReturn       int32
	Query                bsonkit.Doc
	ReturnFieldsSelector bsonkit.Doc
}

// DecodeOpQuery parses an OP_QUERY message body.
func DecodeOpQuery(header Header, wmBody []byte) (*OpQueryRequest, error) {
	if header.OpCode != OpQuery {
		return nil, ErrUnsupportedOpcode
	}
	if len(wmBody) < 4 {
		return nil, fmt.Errorf("wire: OP_QUERY body shorter than the flags field")
	}
	flags := int32(binary.LittleEndian.Uint32(wmBody[0:4]))
	rest := wmBody[4:]

	name, rest, err := cstring(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: OP_QUERY missing full collection name: %w", err)
	}

	if len(rest) < 8 {
		return nil, fmt.Errorf("wire: OP_QUERY body shorter than numberToSkip/numberToReturn")
	}
	numberToSkip := int32(binary.LittleEndian.Uint32(rest[0:4]))
	numberToReturn := int32(binary.LittleEndian.Uint32(rest[4:8]))
	rest = rest[8:]

	queryBytes, rest, err := sliceDoc(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: OP_QUERY malformed query document: %w", err)
	}
	var query bsonkit.Doc
	if err := bson.Unmarshal(queryBytes, &query); err != nil {
		return nil, fmt.Errorf("wire: OP_QUERY malformed query document: %w", err)
	}

	var selector bsonkit.Doc
	if len(rest) > 0 {
		selectorBytes, _, err := sliceDoc(rest)
		if err != nil {
			return nil, fmt.Errorf("wire: OP_QUERY malformed returnFieldsSelector: %w", err)
		}
		if err := bson.Unmarshal(selectorBytes, &selector); err != nil {
			return nil, fmt.Errorf("wire: OP_QUERY malformed returnFieldsSelector: %w", err)
		}
	}

	return &OpQueryRequest{
		Header:               header,
		Flags:                flags,
		FullCollectionName:   name,
		NumberToSkip:         numberToSkip,
		NumberToReturn:       numberToReturn,
		Query:                query,
		ReturnFieldsSelector: selector,
	}, nil
}

// OpReplyResponse is the legacy reply jongodb sends back to an OP_QUERY,
// always with a single document and cursorId 0.
type OpReplyResponse struct {
	ResponseFlags int32
	Document      bsonkit.Doc
}

// EncodeOpReply serializes an OP_REPLY with header fields requestID and
// responseTo; responseTo is the requestId of the OP_QUERY being answered.
func EncodeOpReply(resp OpReplyResponse, requestID, responseTo int32) ([]byte, error) {
	docBytes, err := bson.Marshal(resp.Document)
	if err != nil {
		return nil, fmt.Errorf("wire: failed to encode OP_REPLY document: %w", err)
	}

	const fixed = 4 /*responseFlags*/ + 8 /*cursorID*/ + 4 /*startingFrom*/ + 4 /*numberReturned*/
	total := headerLen + fixed + len(docBytes)
	buf := make([]byte, total)
	putHeader(buf, int32(total), requestID, responseTo, OpReply)

	off := headerLen
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(resp.ResponseFlags))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], 0) // cursorID
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], 0) // startingFrom
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], 1) // numberReturned
	off += 4
	copy(buf[off:], docBytes)
	return buf, nil
}
