package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hasbase/hasbase-core/logger"
)

// Socket communication constants
const (
	// SocketReadTimeout is how often an idle connection re-checks whether the
	// server was closed.
	SocketReadTimeout = 10 * time.Second

	// SocketWriteTimeout bounds each response write so an unresponsive client
	// cannot block a handler.
	SocketWriteTimeout = 10 * time.Second

	// ResponseTimeout is how long a client waits for an answer.
	ResponseTimeout = 30 * time.Second
)

// ErrAlreadyServing is returned by NewServer when another shell already
// answers on the socket path.
var ErrAlreadyServing = errors.New("another hasbase shell is already running")

// Handler executes control commands. Returned strings are shown to the user.
type Handler interface {
	StartCommand(ctx context.Context) (string, error)
	ShutdownCommand() (string, error)
	StatusInfo() Status
}

// Server accepts control connections on a unix socket.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    Handler

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool         // Set to true when Close() is called
	closedMu sync.RWMutex // Guards closed and conns
	conns    map[net.Conn]struct{}

	wg      sync.WaitGroup // Tracks Run() and connection handlers
	readyCh chan struct{}  // Closed when the server is ready to accept connections
	log     *slog.Logger
}

// NewServer listens on socketPath. A stale socket file left by a crashed
// shell is replaced; a live one yields ErrAlreadyServing.
func NewServer(socketPath string, handler Handler) (*Server, error) {
	log := logger.WithComponent("control-socket")

	if conn, err := net.DialTimeout("unix", socketPath, time.Second); err == nil {
		conn.Close()
		return nil, fmt.Errorf("%w (socket %s)", ErrAlreadyServing, socketPath)
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, err
	}
	// Remove existing socket if present
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	log.Info("listening", "socketPath", socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		listener:   listener,
		handler:    handler,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
		readyCh:    make(chan struct{}),
		log:        log,
	}, nil
}

// SocketPath returns the path to the socket
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start launches Run() in a goroutine. It increments the WaitGroup before
// starting the goroutine to avoid a race with Close()/wg.Wait().
func (s *Server) Start() {
	s.wg.Add(1)
	go s.Run()
}

// WaitReady blocks until the server is ready to accept connections.
func (s *Server) WaitReady() {
	<-s.readyCh
}

func (s *Server) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

// Run accepts connections until Close. Use Start() instead of calling go Run()
// directly.
func (s *Server) Run() {
	defer s.wg.Done()

	close(s.readyCh)

	for {
		if s.isClosed() {
			s.log.Info("server closed, stopping accept loop")
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.log.Info("listener closed, stopping")
				return
			}
			// Log error but continue accepting connections
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.handleConnection(conn)
	}
}

// track registers conn so Close can interrupt it. It returns false once the
// server is closed.
func (s *Server) track(conn net.Conn) bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.closedMu.Lock()
	delete(s.conns, conn)
	s.closedMu.Unlock()
	s.wg.Done()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()
	s.log.Debug("connection accepted")

	reader := bufio.NewReader(conn)

	for {
		if s.isClosed() {
			s.log.Debug("server closed, closing connection handler")
			return
		}

		conn.SetReadDeadline(time.Now().Add(SocketReadTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Idle client; loop to re-check closed
				continue
			}
			s.log.Debug("connection ended", "error", err)
			return
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.log.Warn("JSON parse error", "error", err)
			s.send(conn, Response{OK: false, Error: "invalid request: " + err.Error()})
			continue
		}

		s.send(conn, s.dispatch(req))
	}
}

func (s *Server) dispatch(req Request) Response {
	s.log.Info("received command", "command", req.Command)

	if s.handler == nil {
		return Response{OK: false, Error: "sidecar process state not found"}
	}

	switch req.Command {
	case CommandStart:
		msg, err := s.handler.StartCommand(s.ctx)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true, Message: msg}
	case CommandShutdown:
		msg, err := s.handler.ShutdownCommand()
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true, Message: msg}
	case CommandStatus:
		status := s.handler.StatusInfo()
		return Response{OK: true, Status: &status}
	default:
		s.log.Warn("unknown command", "command", req.Command)
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (s *Server) send(conn net.Conn, resp Response) {
	respJSON, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(SocketWriteTimeout))
	if _, err := conn.Write(append(respJSON, '\n')); err != nil {
		s.log.Error("write error", "error", err)
	}
}

// Close stops accepting connections, interrupts open ones, waits for their
// handlers and removes the socket file.
func (s *Server) Close() error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.closedMu.Unlock()

	s.log.Info("closing control socket")
	s.cancel()

	err := s.listener.Close()

	// Wait for handlers so the socket file is not removed while in use
	s.wg.Wait()

	if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		s.log.Warn("failed to remove socket file", "socketPath", s.socketPath, "error", removeErr)
	}
	return err
}

// Client talks to a running shell's control socket.
type Client struct {
	socketPath string
	conn       net.Conn
	reader     *bufio.Reader
}

// Dial connects to the control socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("no running hasbase shell at %s: %w", socketPath, err)
	}

	return &Client{
		socketPath: socketPath,
		conn:       conn,
		reader:     bufio.NewReader(conn),
	}, nil
}

// Send writes req and waits for its response.
func (c *Client) Send(req Request) (Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	c.conn.SetWriteDeadline(time.Now().Add(SocketWriteTimeout))
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("failed to send %s request: %w", req.Command, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(ResponseTimeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return Response{}, fmt.Errorf("failed to read %s response: %w", req.Command, err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return Response{}, fmt.Errorf("invalid %s response: %w", req.Command, err)
	}
	return resp, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call dials socketPath, sends one command and closes the connection.
func Call(socketPath string, cmd Command) (Response, error) {
	c, err := Dial(socketPath)
	if err != nil {
		return Response{}, err
	}
	defer c.Close()
	return c.Send(Request{Command: cmd})
}
