// Package server implements the TCP accept loop and per-connection worker
// that sit between a raw socket and the command dispatcher: frame reading,
// panic-safe dispatch, and bounded-backoff recovery from transient accept
// failures.
package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jongodb/jongodb/internal/dispatch"
	"github.com/jongodb/jongodb/internal/store"
	"github.com/jongodb/jongodb/internal/wire"
)

const (
	backoffBase                  = 10 * time.Millisecond
	backoffMax                   = 1 * time.Second
	maxConsecutiveAcceptFailures = 10
)

// ErrTooManyAcceptFailures is returned by Serve when the accept loop gives
// up after maxConsecutiveAcceptFailures consecutive transient errors.
var ErrTooManyAcceptFailures = errors.New("server: too many consecutive accept failures")

// Server owns a listener and the per-connection workers reading framed
// wire messages off it, dispatching each to a shared Dispatcher.
type Server struct {
	Logger     *zap.Logger
	Dispatcher *dispatch.Dispatcher

	running   atomic.Bool
	listener  net.Listener
	requestID wire.RequestIDCounter

	clientsMu sync.Mutex
	clients   map[net.Conn]struct{}

	workers errgroup.Group
}

// New returns a Server ready to Listen and Serve.
func New(logger *zap.Logger, dispatcher *dispatch.Dispatcher) *Server {
	return &Server{
		Logger:     logger,
		Dispatcher: dispatcher,
		clients:    make(map[net.Conn]struct{}),
	}
}

// Listen binds host:port. Passing port "0" asks the kernel for an
// ephemeral port; the bound address (with the actual port filled in) is
// returned so callers can build the ready line.
func (s *Server) Listen(host, port string) (string, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return "", fmt.Errorf("server: failed to bind %s:%s: %w", host, port, err)
	}
	s.listener = ln
	s.running.Store(true)
	return ln.Addr().String(), nil
}

// Addr returns the bound listener address, or nil before Listen succeeds.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until Shutdown is called or the loop gives up
// after too many consecutive transient accept failures. It always returns
// once the loop has exited; callers typically run it in its own goroutine.
func (s *Server) Serve() error {
	failures := 0
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			failures++
			s.Logger.Warn("transient accept failure", zap.Error(err), zap.Int("consecutiveFailures", failures))
			if failures >= maxConsecutiveAcceptFailures {
				s.Logger.Error("too many consecutive accept failures, stopping server")
				_ = s.listener.Close()
				return ErrTooManyAcceptFailures
			}
			backoff := backoffBase << (failures - 1)
			if backoff > backoffMax || backoff <= 0 {
				backoff = backoffMax
			}
			time.Sleep(backoff)
			continue
		}
		failures = 0
		s.trackClient(conn)
		s.workers.Go(func() error {
			s.handleConnection(conn)
			return nil
		})
	}
}

// Shutdown flips running false, closes the listener, best-effort closes
// every tracked client socket, and waits for in-flight workers to notice
// the closed connections and exit.
func (s *Server) Shutdown() {
	s.running.Store(false)
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.clientsMu.Lock()
	for c := range s.clients {
		_ = c.Close()
	}
	s.clientsMu.Unlock()

	_ = s.workers.Wait()
}

func (s *Server) trackClient(conn net.Conn) {
	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) untrackClient(conn net.Conn) {
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.untrackClient(conn)
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("recovered from panic handling connection", zap.Any("panic", r))
		}
		_ = conn.Close()
	}()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	for {
		msg, err := readMessage(conn)
		if err != nil {
			if err != io.EOF {
				s.Logger.Debug("closing connection after read error", zap.Error(err))
			}
			return
		}

		resp, requestID, responseTo := s.respond(msg)
		if _, err := conn.Write(resp); err != nil {
			s.Logger.Debug("closing connection after write error", zap.Error(err), zap.Int32("requestId", requestID), zap.Int32("responseTo", responseTo))
			return
		}
	}
}

// respond dispatches a decoded message and re-frames the result in the
// same opcode family the request arrived in (OP_MSG answers OP_MSG,
// OP_REPLY answers legacy OP_QUERY). OP_MSG command documents always
// carry their own $db field, so no namespace fallback is needed there;
// OP_QUERY's full collection name supplies it instead.
func (s *Server) respond(msg *wire.Message) (encoded []byte, requestID, responseTo int32) {
	responseTo = msg.Header.RequestID
	requestID = s.requestID.Next()

	var body any
	var out []byte
	var err error

	switch {
	case msg.OpMsg != nil:
		reply := s.Dispatcher.Handle(msg.OpMsg.Body, "")
		body = reply
		out, err = wire.EncodeOpMsg(wire.OpMsgResponse{Body: reply}, requestID, responseTo)
	case msg.OpQuery != nil:
		dbFromNamespace := ""
		if ns, nerr := store.ParseNamespace(msg.OpQuery.FullCollectionName); nerr == nil {
			dbFromNamespace = ns.Database
		} else {
			s.Logger.Warn("OP_QUERY full collection name is not a valid namespace", zap.String("fullCollectionName", msg.OpQuery.FullCollectionName), zap.Error(nerr))
		}
		reply := s.Dispatcher.Handle(msg.OpQuery.Query, dbFromNamespace)
		body = reply
		out, err = wire.EncodeOpReply(wire.OpReplyResponse{Document: reply}, requestID, responseTo)
	default:
		err = errors.New("server: decoded message carries neither OP_MSG nor OP_QUERY")
	}

	if err != nil {
		s.Logger.Error("failed to encode response", zap.Error(err), zap.Any("body", body))
		return nil, requestID, responseTo
	}
	return out, requestID, responseTo
}

// readMessage reads exactly one framed wire message: the 16-byte header,
// then messageLength-16 more bytes, then decodes it.
func readMessage(conn net.Conn) (*wire.Message, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	if length < 16 {
		return nil, fmt.Errorf("server: message declares length %d smaller than the header", length)
	}
	buf := make([]byte, length)
	copy(buf, header)
	if _, err := io.ReadFull(conn, buf[16:]); err != nil {
		return nil, err
	}
	return wire.Decode(buf)
}
