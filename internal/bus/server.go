package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"crashd/internal/logging"
)

// Request is a method call waiting for the daemon.
type Request struct {
	Message
	// UID is the caller's user id read with SO_PEERCRED, or -1 when unknown.
	UID int
}

// Server accepts client connections and forwards their calls.
type Server struct {
	path     string
	logger   *slog.Logger
	listener *net.UnixListener

	requests    chan Request
	disconnects chan string

	mu     sync.Mutex
	conns  map[string]*peer
	serial atomic.Uint64
	nextID atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type peer struct {
	name string
	uid  int
	t    *transport
}

// Listen binds the socket at path, replacing a stale one.
func Listen(ctx context.Context, path string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:        path,
		logger:      logging.NewComponentLogger(logger, "bus"),
		listener:    listener,
		requests:    make(chan Request, 16),
		disconnects: make(chan string, 16),
		conns:       map[string]*peer{},
		ctx:         serverCtx,
		cancel:      cancel,
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Requests delivers method calls other than Hello.
func (s *Server) Requests() <-chan Request { return s.requests }

// Disconnects delivers the unique name of every client that went away.
func (s *Server) Disconnects() <-chan string { return s.disconnects }

// Serve starts accepting connections until Close.
func (s *Server) Serve() {
	s.logger.Debug("bus listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.AcceptUnix()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "bus_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			p := &peer{
				name: fmt.Sprintf(":1.%d", s.nextID.Add(1)),
				uid:  peerUID(conn),
				t:    newTransport(conn),
			}
			s.mu.Lock()
			s.conns[p.name] = p
			s.mu.Unlock()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serveConn(p)
			}()
		}
	}()
}

func (s *Server) serveConn(p *peer) {
	logger := s.logger.With(logging.String("client", p.name), logging.Int("uid", p.uid))
	logger.Debug("client connected")
	defer func() {
		s.mu.Lock()
		delete(s.conns, p.name)
		s.mu.Unlock()
		_ = p.t.close()
		logger.Debug("client disconnected")
		select {
		case s.disconnects <- p.name:
		case <-s.ctx.Done():
		}
	}()

	for {
		msg, err := p.t.read()
		if err != nil {
			if s.ctx.Err() == nil && !isClosedErr(err) {
				logger.Debug("client read failed", logging.Error(err))
			}
			return
		}
		if msg.Type != TypeCall {
			continue
		}
		msg.Sender = p.name
		if msg.Member == MemberHello {
			body, _ := encodeBody(p.name)
			_ = p.t.write(Message{
				Type:        TypeReturn,
				Serial:      s.serial.Add(1),
				ReplySerial: msg.Serial,
				Sender:      ServiceName,
				Destination: p.name,
				Body:        body,
			})
			continue
		}
		select {
		case s.requests <- Request{Message: msg, UID: p.uid}:
		case <-s.ctx.Done():
			return
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

// peerUID reads the connecting process's credentials.
func peerUID(conn *net.UnixConn) int {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1
	}
	uid := -1
	_ = raw.Control(func(fd uintptr) {
		cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err == nil {
			uid = int(cred.Uid)
		}
	})
	return uid
}

// Reply sends a method return for req.
func (s *Server) Reply(req Request, body any) error {
	raw, err := encodeBody(body)
	if err != nil {
		return s.ReplyError(req, ErrorFailed, err)
	}
	return s.send(req.Sender, Message{Type: TypeReturn, ReplySerial: req.Serial, Body: raw})
}

// ReplyError sends an error reply for req.
func (s *Server) ReplyError(req Request, name string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	raw, _ := encodeBody(errorBody{Message: msg})
	return s.send(req.Sender, Message{Type: TypeError, ReplySerial: req.Serial, ErrorName: name, Body: raw})
}

// Emit broadcasts a signal to every connected client.
func (s *Server) Emit(member string, body any) error {
	raw, err := encodeBody(body)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range s.Clients() {
		if err := s.send(name, Message{Type: TypeSignal, Member: member, Body: raw}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmitTo sends a signal to one client.
func (s *Server) EmitTo(destination, member string, body any) error {
	raw, err := encodeBody(body)
	if err != nil {
		return err
	}
	return s.send(destination, Message{Type: TypeSignal, Member: member, Body: raw})
}

// Connected reports whether a client with the unique name is attached.
func (s *Server) Connected(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[name]
	return ok
}

// Clients lists the unique names of attached clients.
func (s *Server) Clients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.conns))
	for name := range s.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) send(destination string, msg Message) error {
	s.mu.Lock()
	p, ok := s.conns[destination]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("client %s: %w", destination, ErrConnectionClosed)
	}
	msg.Serial = s.serial.Add(1)
	msg.Sender = ServiceName
	msg.Destination = destination
	if err := p.t.write(msg); err != nil {
		_ = p.t.close()
		return fmt.Errorf("write to %s: %w", destination, err)
	}
	return nil
}

// Close stops accepting, drops every client, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.mu.Lock()
	for _, p := range s.conns {
		_ = p.t.close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "bus_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket may block future starts"),
		)
	}
}
