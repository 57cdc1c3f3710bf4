package ident

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"code.dogecoin.org/governor"
	"github.com/sirupsen/logrus"

	"github.com/thombles/whoisit/internal/spec"
)

const DefaultTimeout = 30 * time.Second

// Resolver maps a lookup key to a result; see internal/resolver.
type Resolver interface {
	Resolve(ctx context.Context, key spec.LookupKey) spec.Result
}

// Recorder receives a record of each answered query; see internal/audit.
type Recorder interface {
	Record(rec spec.QueryRecord)
}

// Server is the ident listener service. It binds the configured
// addresses up front (Listen), then accepts connections until stopped,
// dispatching each to its own goroutine so no connection's I/O can
// stall the accept loop.
type Server struct {
	governor.ServiceCtx
	bindAddrs []spec.Address
	timeout   time.Duration
	resolver  Resolver
	recorder  Recorder // nil when the audit log is disabled
	ctx       context.Context

	// MUTEX state:
	mutex       sync.Mutex
	stopping    bool
	listen      []net.Listener
	connections []net.Conn
}

func New(bind []spec.Address, rsv Resolver, rec Recorder, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Server{
		bindAddrs: bind,
		timeout:   timeout,
		resolver:  rsv,
		recorder:  rec,
	}
}

// Listen binds every configured address. Any bind failure closes
// whatever was already bound and reports the error; binding is fatal
// at startup.
func (s *Server) Listen() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, b := range s.bindAddrs {
		listner, err := net.Listen("tcp", b.String())
		if err != nil {
			for _, l := range s.listen {
				l.Close()
			}
			s.listen = nil
			return fmt.Errorf("cannot listen on %v: %w", b, err)
		}
		logrus.WithField("listener", listner.Addr().String()).Info("ident listening")
		s.listen = append(s.listen, listner)
	}
	if len(s.listen) == 0 {
		return errors.New("no listen addresses configured")
	}
	return nil
}

// Addrs reports the bound listener addresses (ephemeral ports resolved).
func (s *Server) Addrs() []net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	addrs := make([]net.Addr, 0, len(s.listen))
	for _, l := range s.listen {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// goroutine
func (s *Server) Run() {
	s.ctx = s.Context // Service Context is first available here
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	s.mutex.Lock()
	listen := make([]net.Listener, len(s.listen))
	copy(listen, s.listen)
	s.mutex.Unlock()
	var wg sync.WaitGroup
	for _, l := range listen {
		wg.Add(1)
		go s.acceptIncoming(l, &wg)
	}
	wg.Wait()
}

// goroutine
func (s *Server) acceptIncoming(listner net.Listener, wg *sync.WaitGroup) {
	defer wg.Done()
	defer listner.Close()
	who := listner.Addr().String()
	for {
		conn, err := listner.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return // listener closed by Stop()
			}
			logrus.WithError(err).WithField("listener", who).Warn("accept failed")
			continue
		}
		if !s.trackConn(conn) { // Stop was called
			conn.Close()
			return
		}
		go s.serveConn(s.ctx, conn)
	}
}

// called from any
func (s *Server) Stop() {
	s.mutex.Lock() // vs Listen, trackConn, closeConn
	defer s.mutex.Unlock()
	s.stopping = true
	for _, listner := range s.listen {
		listner.Close()
	}
	for _, c := range s.connections {
		c.Close()
	}
}

// trackConn adds a connection to the tracking array.
// returns false if the service is stopping.
func (s *Server) trackConn(conn net.Conn) bool {
	s.mutex.Lock() // vs closeConn, Stop
	defer s.mutex.Unlock()
	if s.stopping {
		return false
	}
	s.connections = append(s.connections, conn)
	return true
}

// closeConn releases a connection exactly once regardless of which
// path reached it; double closes are harmless no-ops on net.Conn.
func (s *Server) closeConn(conn net.Conn) {
	conn.Close()
	s.mutex.Lock() // vs trackConn, Stop
	defer s.mutex.Unlock()
	for i, c := range s.connections {
		if c == conn {
			// remove from unordered array
			s.connections[i] = s.connections[len(s.connections)-1]
			s.connections = s.connections[:len(s.connections)-1]
			break
		}
	}
}
