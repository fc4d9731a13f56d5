package admin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// ErrServerShutdown is returned to commands that arrive while the server
// is shutting down.
var ErrServerShutdown = errors.New("admin server shutdown")

/*
Server is the node-side counterpart of NetworkClient. It accepts admin
connections, decodes one command at a time per connection, and executes it
against the Handler. Commands run in the connection's goroutine, so
long-running fetches on one connection do not delay commands arriving on
another.

Close stops accepting connections; commands already executing are
abandoned to finish on their own.
*/
type Server struct {
	listener net.Listener
	handler  *Handler
	logger   *logrus.Entry

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// NewServer starts listening on bindAddr. Call Listen to start accepting
// connections.
func NewServer(bindAddr string, handler *Handler, logger *logrus.Entry) (*Server, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener:   listener,
		handler:    handler,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close makes the server stop accepting connections.
func (s *Server) Close() error {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()

	if !s.shutdown {
		close(s.shutdownCh)
		s.listener.Close()
		s.shutdown = true
	}
	return nil
}

// IsShutdown is used to check if the server is shutdown.
func (s *Server) IsShutdown() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

// Listen accepts incoming connections until the server is closed. It
// blocks and is normally run in its own goroutine.
func (s *Server) Listen() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.IsShutdown() {
				return
			}
			s.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}

		s.logger.WithField("from", conn.RemoteAddr()).Debug("Accepted admin connection")

		go s.handleConn(conn)
	}
}

// handleConn is used to handle an inbound connection for its lifespan.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReaderSize(conn, bufSize)
	w := bufio.NewWriterSize(conn, bufSize)
	dec := codec.NewDecoder(r, jsonHandle)
	enc := codec.NewEncoder(w, jsonHandle)

	for {
		if err := s.handleCommand(r, dec, enc); err != nil {
			if err != io.EOF && err != ErrServerShutdown {
				s.logger.WithField("error", err).Error("Failed to handle admin command")
			}
			return
		}
		if err := w.Flush(); err != nil {
			s.logger.WithField("error", err).Error("Failed to flush response")
			return
		}
	}
}

// handleCommand decodes a single command, executes it, and encodes the
// response as an error string followed by the response object.
func (s *Server) handleCommand(r *bufio.Reader, dec *codec.Decoder, enc *codec.Encoder) error {
	rpcType, err := r.ReadByte()
	if err != nil {
		return err
	}

	if s.IsShutdown() {
		return ErrServerShutdown
	}

	var resp interface{}
	var respErr error

	switch rpcType {
	case rpcFetch:
		var req FetchRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		path, err := s.handler.FetchStore(req.StoreName, req.StoreDir, req.PushVersion)
		resp, respErr = &FetchResponse{Path: path}, err

	case rpcSwap:
		var req SwapRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		previous, err := s.handler.SwapStore(req.StoreName, req.Path)
		resp, respErr = &SwapResponse{PreviousDir: previous}, err

	case rpcRollback:
		var req RollbackRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		resp, respErr = &RollbackResponse{}, s.handler.RollbackStore(req.StoreName, req.PushVersion)

	case rpcFailedFetch:
		var req FailedFetchRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		resp, respErr = &FailedFetchResponse{}, s.handler.FailedFetchStore(req.StoreName, req.Path)

	case rpcDisableVersion:
		var req DisableVersionRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		resp, respErr = &DisableVersionResponse{}, s.handler.DisableStoreVersion(req.StoreName, req.PushVersion)

	case rpcCurrentVersion:
		var req CurrentVersionRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		version, err := s.handler.GetCurrentVersion(req.StoreName)
		resp, respErr = &CurrentVersionResponse{Version: version}, err

	default:
		return fmt.Errorf("unknown rpc type %d", rpcType)
	}

	// Send the error first
	errString := ""
	if respErr != nil {
		errString = respErr.Error()
	}
	if err := enc.Encode(errString); err != nil {
		return err
	}

	// Send the response
	return enc.Encode(resp)
}
