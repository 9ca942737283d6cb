// Package execution implements the Execution Server: the
// TCP endpoint competitors log into, framed with the length-prefixed
// binary protocol in internal/wire. Reader/writer goroutines are pure I/O;
// every byte that can mutate exchange state is funnelled through a single
// queue drained by the Controller's tick loop, preserving the
// single-threaded cooperative model.
package execution

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"

	"skoll/internal/competitor"
	"skoll/internal/wire"
)

// LoginTimeout is how long an accepted connection has to send a valid
// LOGIN frame before it is dropped.
const LoginTimeout = 5 * time.Second

type itemKind uint8

const (
	itemLogin itemKind = iota
	itemMessage
)

// item is one entry in the server's arrival-ordered inbound queue. Login
// and ordinary messages share the same queue so a connection's LOGIN is
// always processed before any frame it sent afterwards, without the
// reader needing to block for a reply.
type item struct {
	kind    itemKind
	connID  string
	login   wire.Login
	msgType wire.MessageType
	body    []byte
}

// Server accepts competitor connections and queues their frames for the
// event loop. Its reader goroutines never dispatch into a Competitor;
// that happens only in Drain, on the tick-driving goroutine.
type Server struct {
	ln      net.Listener
	manager *competitor.Manager
	tomb    tomb.Tomb

	mu    sync.Mutex
	queue []item
	conns map[string]*conn
}

// Listen binds the Execution Server's TCP endpoint.
func Listen(addr string, manager *competitor.Manager) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		ln:      ln,
		manager: manager,
		conns:   make(map[string]*conn),
	}, nil
}

// Addr is the listener's bound address, useful when the configured port
// was 0.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Start runs the accept loop under tomb supervision.
func (s *Server) Start() {
	s.tomb.Go(s.acceptLoop)
}

// Stop closes the listener and every open connection, then waits for the
// accept loop to exit.
func (s *Server) Stop() error {
	s.tomb.Kill(nil)
	s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	return s.tomb.Wait()
}

func (s *Server) acceptLoop() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.tomb.Dying():
				return nil
			default:
				log.Warn().Err(err).Msg("execution: accept failed")
				return err
			}
		}
		c := newConn(uuid.NewString(), nc)
		s.mu.Lock()
		s.conns[c.id] = c
		s.mu.Unlock()
		go c.writeLoop()
		s.tomb.Go(func() error { return s.readLoop(c) })
	}
}

func (s *Server) readLoop(c *conn) error {
	defer s.removeConn(c)

	c.netConn.SetReadDeadline(time.Now().Add(LoginTimeout))
	loginBody, err := readFrame(c.netConn, wire.MsgLogin)
	if err != nil {
		c.Close()
		return nil
	}
	login, err := wire.DecodeLogin(loginBody)
	if err != nil {
		c.Close()
		return nil
	}
	c.netConn.SetReadDeadline(time.Time{})
	s.push(item{kind: itemLogin, connID: c.id, login: login})

	for {
		select {
		case <-c.closed:
			return nil
		default:
		}
		header := make([]byte, wire.HeaderSize)
		if _, err := io.ReadFull(c.netConn, header); err != nil {
			c.Close()
			return nil
		}
		length, msgType, err := wire.ParseHeader(header)
		if err != nil || int(length) < wire.HeaderSize {
			c.Close()
			return nil
		}
		body := make([]byte, int(length)-wire.HeaderSize)
		if _, err := io.ReadFull(c.netConn, body); err != nil {
			c.Close()
			return nil
		}
		s.push(item{kind: itemMessage, connID: c.id, msgType: msgType, body: body})
	}
}

// readFrame reads exactly one frame off r and verifies it is of the
// expected type, used only for the initial LOGIN handshake.
func readFrame(r io.Reader, want wire.MessageType) ([]byte, error) {
	header := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length, msgType, err := wire.ParseHeader(header)
	if err != nil || int(length) < wire.HeaderSize {
		return nil, errors.New("execution: malformed frame header")
	}
	if msgType != want {
		return nil, errors.New("execution: message before LOGIN")
	}
	body := make([]byte, int(length)-wire.HeaderSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Server) push(it item) {
	s.mu.Lock()
	s.queue = append(s.queue, it)
	s.mu.Unlock()
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// Drain hands every queued item to the event loop in arrival order, then
// clears the queue. Must be
// called from the single tick-driving goroutine.
func (s *Server) Drain(now time.Time) {
	s.mu.Lock()
	items := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, it := range items {
		s.mu.Lock()
		c := s.conns[it.connID]
		s.mu.Unlock()
		if c == nil {
			continue
		}
		switch it.kind {
		case itemLogin:
			s.handleLogin(now, c, it.login)
		case itemMessage:
			s.handleMessage(now, c, it.msgType, it.body)
		}
	}
}

func (s *Server) handleLogin(now time.Time, c *conn, login wire.Login) {
	comp, err := s.manager.Login(now, c.id, login.TeamName, login.Secret, c)
	if err != nil {
		reason := competitor.ReasonBadCredentials
		if errors.Is(err, competitor.ErrAlreadyActive) {
			reason = competitor.ReasonAlreadyActive
		}
		c.Enqueue(wire.EncodeErrorReport(wire.ErrorReport{ClientOrderID: 0, Reason: reason}))
		c.CloseAfterFlush()
		return
	}
	log.Info().Str("team", comp.TeamName).Msg("execution: login accepted")
}

func (s *Server) handleMessage(now time.Time, c *conn, msgType wire.MessageType, body []byte) {
	comp, ok := s.manager.BySessionID(c.id)
	if !ok {
		c.Close()
		return
	}
	reason, closed := comp.HandleMessage(now, msgType, body)
	if closed {
		// The close reason goes out first; the force-cancellation
		// statuses for any still-resting orders follow it.
		c.Enqueue(wire.EncodeErrorReport(wire.ErrorReport{ClientOrderID: 0, Reason: reason}))
		s.manager.OnSessionClosed(comp)
		c.CloseAfterFlush()
	}
}
