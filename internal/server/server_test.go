package server

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/dispatch"
	"github.com/jongodb/jongodb/internal/wire"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := New(zap.NewNop(), dispatch.New(dispatch.Topology{}, zap.NewNop()))
	addr, err := s.Listen("127.0.0.1", "0")
	require.NoError(t, err)
	go func() {
		_ = s.Serve()
	}()
	return s, addr
}

func roundTrip(t *testing.T, conn net.Conn, body bsonkit.Doc) bsonkit.Doc {
	t.Helper()
	req, err := wire.EncodeOpMsg(wire.OpMsgResponse{Body: body}, 1, 0)
	require.NoError(t, err)
	_, err = conn.Write(req)
	require.NoError(t, err)

	header := make([]byte, 16)
	_, err = readFull(conn, header)
	require.NoError(t, err)
	h, err := wire.ReadHeader(header)
	require.NoError(t, err)
	rest := make([]byte, h.MessageLength-16)
	_, err = readFull(conn, rest)
	require.NoError(t, err)

	msg, err := wire.Decode(append(header, rest...))
	require.NoError(t, err)
	require.NotNil(t, msg.OpMsg)
	return msg.OpMsg.Body
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServerRespondsToPing(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.Shutdown()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, bsonkit.Doc{{Key: "ping", Value: int32(1)}, {Key: "$db", Value: "admin"}})
	ok, _ := bsonkit.Get(resp, "ok")
	assert.Equal(t, float64(1), ok)
}

func TestServerHandlesMultipleRequestsOnOneConnection(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.Shutdown()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		resp := roundTrip(t, conn, bsonkit.Doc{{Key: "ping", Value: int32(1)}, {Key: "$db", Value: "admin"}})
		ok, _ := bsonkit.Get(resp, "ok")
		assert.Equal(t, float64(1), ok)
	}
}

func TestServerShutdownClosesListenerAndConnections(t *testing.T) {
	s, addr := newTestServer(t)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	s.Shutdown()

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "listener should be closed after shutdown")
}

// encodeOpQuery builds a raw OP_QUERY wire message the way a legacy
// driver would, with fullCollectionName supplying the database via its
// "db.collection" prefix rather than an explicit $db field.
func encodeOpQuery(t *testing.T, fullCollectionName string, query bsonkit.Doc, requestID int32) []byte {
	t.Helper()
	queryBytes, err := bson.Marshal(query)
	require.NoError(t, err)

	body := make([]byte, 4) // flags
	body = append(body, append([]byte(fullCollectionName), 0)...)
	body = append(body, make([]byte, 8)...) // numberToSkip, numberToReturn
	body = append(body, queryBytes...)

	total := 16 + len(body)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(buf[8:12], 0)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(wire.OpQuery))
	copy(buf[16:], body)
	return buf
}

func TestServerDerivesDatabaseFromOpQueryFullCollectionName(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.Shutdown()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	req := encodeOpQuery(t, "admin.$cmd", bsonkit.Doc{{Key: "ping", Value: int32(1)}}, 1)
	_, err = conn.Write(req)
	require.NoError(t, err)

	header := make([]byte, 16)
	_, err = readFull(conn, header)
	require.NoError(t, err)
	h, err := wire.ReadHeader(header)
	require.NoError(t, err)
	require.Equal(t, wire.OpReply, h.OpCode)
	rest := make([]byte, h.MessageLength-16)
	_, err = readFull(conn, rest)
	require.NoError(t, err)

	// OP_REPLY body: responseFlags(4) + cursorID(8) + startingFrom(4) +
	// numberReturned(4) + one BSON document.
	var doc bsonkit.Doc
	require.NoError(t, bson.Unmarshal(rest[20:], &doc))
	ok, _ := bsonkit.Get(doc, "ok")
	assert.Equal(t, float64(1), ok, "ping routed through the database derived from the OP_QUERY full collection name")
}

func TestServerMalformedMessageClosesOnlyThatConnection(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.Shutdown()

	bad, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	_, err = bad.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	bad.Close()

	good, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer good.Close()
	resp := roundTrip(t, good, bsonkit.Doc{{Key: "ping", Value: int32(1)}, {Key: "$db", Value: "admin"}})
	ok, _ := bsonkit.Get(resp, "ok")
	assert.Equal(t, float64(1), ok)
}
