// Package launcher implements the process-level contract external test
// runners dial into: given an already-loaded config, bind the server,
// print the ready line once listening, and block until a termination
// signal arrives.
package launcher

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/jongodb/jongodb/internal/config"
	"github.com/jongodb/jongodb/internal/dispatch"
	"github.com/jongodb/jongodb/internal/server"
)

// Run binds the server per cfg, emits the ready or failure line, and
// blocks until a termination signal triggers shutdown. It returns the
// process exit code: 0 for a clean post-ready shutdown, non-zero for a
// pre-ready bind failure or an unexpected server exit.
func Run(cfg *config.Config, logger *zap.Logger, stdout, stderr io.Writer) int {
	topology := dispatch.Topology{}
	if cfg.ReplicaSet != "" {
		topology.ReplicaSet = cfg.ReplicaSet
		topology.ProcessID = bson.NewObjectID()
	}
	d := dispatch.New(topology, logger)
	srv := server.New(logger, d)

	addr, err := srv.Listen(cfg.Host, cfg.Port)
	if err != nil {
		fmt.Fprintf(stderr, "JONGODB_START_FAILURE=%s\n", err.Error())
		return 1
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		fmt.Fprintf(stderr, "JONGODB_START_FAILURE=%s\n", err.Error())
		return 1
	}
	topology.Host = net.JoinHostPort(host, port)
	d.Topology = topology

	uri := buildURI(host, port, cfg.Database, cfg.ReplicaSet)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Serve()
	}()

	fmt.Fprintf(stdout, "JONGODB_URI=%s\n", uri)
	if f, ok := stdout.(*os.File); ok {
		_ = f.Sync()
	}
	logger.Info("jongodb is listening", zap.String("uri", uri))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		logger.Info("received termination signal, shutting down")
		srv.Shutdown()
		<-serveErrCh
		return 0
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("server stopped unexpectedly", zap.Error(err))
			return 1
		}
		return 0
	}
}

// buildURI renders the ready-line URI: a standalone mongodb:// URI, with
// a replicaSet query parameter appended when running in replica-set mode.
func buildURI(host, port, database, replicaSet string) string {
	uri := fmt.Sprintf("mongodb://%s:%s/%s", host, port, database)
	if replicaSet != "" {
		uri += "?replicaSet=" + replicaSet
	}
	return uri
}
