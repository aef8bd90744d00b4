package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
)

func TestReadHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, 20)
	putHeader(buf, 20, 42, 7, OpMsg)
	copy(buf[16:], []byte{1, 2, 3, 4})

	h, err := ReadHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(20), h.MessageLength)
	assert.Equal(t, int32(42), h.RequestID)
	assert.Equal(t, int32(7), h.ResponseTo)
	assert.Equal(t, OpMsg, h.OpCode)
}

func TestReadHeaderShort(t *testing.T) {
	_, err := ReadHeader(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestReadHeaderMalformedLength(t *testing.T) {
	buf := make([]byte, 16)
	putHeader(buf, 4, 1, 0, OpMsg)
	_, err := ReadHeader(buf)
	assert.ErrorIs(t, err, ErrMalformedLength)
}

func TestEncodeDecodeOpMsgRoundTrip(t *testing.T) {
	body := bsonkit.Doc{{Key: "ping", Value: int32(1)}, {Key: "$db", Value: "admin"}}
	encoded, err := EncodeOpMsg(OpMsgResponse{Body: body}, 5, 3)
	require.NoError(t, err)

	header, err := ReadHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, OpMsg, header.OpCode)
	assert.Equal(t, int32(5), header.RequestID)
	assert.Equal(t, int32(3), header.ResponseTo)

	decoded, err := DecodeOpMsg(header, encoded[16:])
	require.NoError(t, err)
	assert.Equal(t, body, decoded.Body)
	assert.False(t, decoded.MoreToCome())
}

func TestDecodeOpMsgMergesDocumentSequence(t *testing.T) {
	kind0 := bsonkit.Doc{{Key: "insert", Value: "coll"}, {Key: "$db", Value: "d"}}
	kind0Bytes, err := bson.Marshal(kind0)
	require.NoError(t, err)

	doc1, err := bson.Marshal(bsonkit.Doc{{Key: "_id", Value: int32(1)}})
	require.NoError(t, err)
	doc2, err := bson.Marshal(bsonkit.Doc{{Key: "_id", Value: int32(2)}})
	require.NoError(t, err)

	identifier := "documents"
	seqPayload := append([]byte(identifier), 0)
	seqPayload = append(seqPayload, doc1...)
	seqPayload = append(seqPayload, doc2...)
	seqSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(seqSize, uint32(4+len(seqPayload)))
	seqSection := append(seqSize, seqPayload...)

	var wmBody []byte
	flagBits := make([]byte, 4)
	wmBody = append(wmBody, flagBits...)
	wmBody = append(wmBody, sectionKindBody)
	wmBody = append(wmBody, kind0Bytes...)
	wmBody = append(wmBody, sectionKindDocSeq)
	wmBody = append(wmBody, seqSection...)

	header := Header{OpCode: OpMsg}
	decoded, err := DecodeOpMsg(header, wmBody)
	require.NoError(t, err)

	docs, ok := bsonkit.Get(decoded.Body, "documents")
	require.True(t, ok)
	arr, ok := docs.(bson.A)
	require.True(t, ok)
	require.Len(t, arr, 2)
}

func TestDecodeOpMsgRejectsUnknownSectionKind(t *testing.T) {
	wmBody := []byte{0, 0, 0, 0, 9}
	_, err := DecodeOpMsg(Header{OpCode: OpMsg}, wmBody)
	assert.ErrorIs(t, err, ErrUnsupportedSectionKind)
}

func TestDecodeOpMsgRejectsWrongOpcode(t *testing.T) {
	_, err := DecodeOpMsg(Header{OpCode: OpQuery}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedOpcode)
}

func TestDecodeOpQuery(t *testing.T) {
	flags := make([]byte, 4)
	name := append([]byte("admin.$cmd"), 0)
	skipReturn := make([]byte, 8)
	binary.LittleEndian.PutUint32(skipReturn[4:], 1)

	query := bsonkit.Doc{{Key: "ismaster", Value: int32(1)}}
	queryBytes, err := bson.Marshal(query)
	require.NoError(t, err)

	var body []byte
	body = append(body, flags...)
	body = append(body, name...)
	body = append(body, skipReturn...)
	body = append(body, queryBytes...)

	header := Header{OpCode: OpQuery}
	decoded, err := DecodeOpQuery(header, body)
	require.NoError(t, err)
	assert.Equal(t, "admin.$cmd", decoded.FullCollectionName)
	assert.Equal(t, query, decoded.Query)
}

func TestEncodeOpReply(t *testing.T) {
	doc := bsonkit.Doc{{Key: "ok", Value: float64(1)}}
	encoded, err := EncodeOpReply(OpReplyResponse{Document: doc}, 9, 4)
	require.NoError(t, err)

	header, err := ReadHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, OpReply, header.OpCode)
	assert.Equal(t, int32(9), header.RequestID)
	assert.Equal(t, int32(4), header.ResponseTo)
}

func TestDecodeDispatchesByOpcode(t *testing.T) {
	body := bsonkit.Doc{{Key: "ping", Value: int32(1)}}
	encoded, err := EncodeOpMsg(OpMsgResponse{Body: body}, 1, 0)
	require.NoError(t, err)

	msg, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, msg.OpMsg)
	assert.Nil(t, msg.OpQuery)
	assert.Equal(t, body, msg.OpMsg.Body)
}

func TestDecodeUnsupportedOpcode(t *testing.T) {
	buf := make([]byte, 16)
	putHeader(buf, 16, 1, 0, Opcode(9999))
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrUnsupportedOpcode)
}

func TestRequestIDCounterIsMonotonic(t *testing.T) {
	var c RequestIDCounter
	a := c.Next()
	b := c.Next()
	assert.Less(t, a, b)
}
