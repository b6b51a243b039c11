package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// Service answers daemon requests. Every connection shares one Service, so
// implementations must be safe for concurrent use.
type Service interface {
	Health() HealthResult
	Outline(params SourceParams) (*OutlineResult, error)
	Check(params SourceParams) (*CheckResult, error)
	Find(name string) (*FindResult, error)
	Files() (*FilesResult, error)
	Reindex(ctx context.Context) (*ReindexResult, error)
}

// Server is the daemon that listens on a Unix socket and serves requests.
type Server struct {
	svc      Service
	listener net.Listener
	sockPath string
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	done         chan struct{}
	shutdownCh   chan struct{} // closed when a remote shutdown request is received
	shutdownOnce sync.Once
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewServer creates a daemon server backed by the given service.
func NewServer(svc Service, sockPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		svc:        svc,
		sockPath:   sockPath,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Start begins listening on the Unix socket. It handles stale sockets by
// attempting a connection first. If the connection fails, the stale socket
// is removed before binding.
func (s *Server) Start() error {
	if _, err := os.Stat(s.sockPath); err == nil {
		conn, err := net.DialTimeout("unix", s.sockPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return fmt.Errorf("daemon already running at %s", s.sockPath)
		}
		slog.Debug("removing stale socket", "path", s.sockPath)
		os.Remove(s.sockPath)
	}

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.started = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully shuts down the server, closing the listener and removing the socket file.
// Idempotent: safe to call after a remote shutdown and again on a signal.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.sockPath)
	})
	return nil
}

// ShutdownCh returns a channel that is closed when a remote shutdown request
// is received. The daemon's main goroutine should select on this alongside
// OS signals so the process actually exits after a remote stop.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// Addr returns the socket path the server is listening on.
func (s *Server) Addr() string {
	return s.sockPath
}

// Accept retry delays after a failed Accept, doubling up to the max.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			slog.Warn("accept failed", "err", err, "retry", delay)
			select {
			case <-s.done:
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the scanner when the server stops.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-s.done:
			conn.Close()
		case <-connDone:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 4*1024*1024) // 4MB max message

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, Response{Error: "invalid request JSON"})
			continue
		}

		start := time.Now()
		resp := s.handleRequest(req)
		slog.Debug("request", "method", req.Method, "id", req.ID, "elapsed", time.Since(start), "error", resp.Error)
		s.writeResponse(conn, resp)

		if req.Method == MethodShutdown {
			s.shutdownOnce.Do(func() { close(s.shutdownCh) })
			return
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	resp := s.dispatch(req)
	resp.ID = req.ID
	return resp
}

func (s *Server) dispatch(req Request) Response {
	switch req.Method {
	case MethodHealth:
		return s.handleHealth()
	case MethodOutline:
		var params SourceParams
		if err := decodeParams(req.Params, &params); err != nil {
			return Response{Error: "invalid outline params"}
		}
		return reply(s.svc.Outline(params))
	case MethodCheck:
		var params SourceParams
		if err := decodeParams(req.Params, &params); err != nil {
			return Response{Error: "invalid check params"}
		}
		return reply(s.svc.Check(params))
	case MethodFind:
		var params FindParams
		if err := decodeParams(req.Params, &params); err != nil || params.Name == "" {
			return Response{Error: "invalid find params"}
		}
		return reply(s.svc.Find(params.Name))
	case MethodFiles:
		return reply(s.svc.Files())
	case MethodReindex:
		return reply(s.svc.Reindex(s.ctx))
	case MethodShutdown:
		return Response{Result: struct{}{}}
	default:
		return Response{Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}
}

func (s *Server) handleHealth() Response {
	result := s.svc.Health()
	result.Status = "ok"
	result.Uptime = time.Since(s.started).Round(time.Second).String()
	return Response{Result: result}
}

// reply wraps a service result or error.
func reply[T any](result *T, err error) Response {
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Result: result}
}

// decodeParams re-marshals generic params into a typed struct. Missing params
// decode as the zero value.
func decodeParams(params interface{}, target interface{}) error {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response", "id", resp.ID, "err", err)
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}
