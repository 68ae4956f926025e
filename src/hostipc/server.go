package hostipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"screen-queue/src/messages"
)

// ServerOptions customizes a Server.
type ServerOptions struct {
	// OnOverlaySize receives every reportOverlaySize call.
	OnOverlaySize func(visible bool, height int)
	// OnToggleWindow runs in addition to the toggle-window broadcast.
	OnToggleWindow func()
	// HandlerTimeout bounds each backend call.
	HandlerTimeout time.Duration
}

// Server is the host side of the IPC contract. It listens on the first
// free port of a range, answers PING probes, serves one JSON request per
// connection and keeps subscribe connections open for push events.
type Server struct {
	backend Backend
	opts    ServerOptions

	ln   net.Listener
	port int

	mu          sync.Mutex
	subscribers map[net.Conn]*sync.Mutex
	closed      bool

	wg sync.WaitGroup
}

// NewServer binds the first free port in ports.
func NewServer(backend Backend, ports PortRange, opts ServerOptions) (*Server, error) {
	if backend == nil {
		return nil, errors.New("hostipc: nil backend")
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}
	ports = ports.normalized()
	var lastErr error
	for port := ports.Start; port <= ports.End; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(hostAddr, strconv.Itoa(port)))
		if err != nil {
			lastErr = err
			continue
		}
		return &Server{
			backend:     backend,
			opts:        opts,
			ln:          ln,
			port:        port,
			subscribers: make(map[net.Conn]*sync.Mutex),
		}, nil
	}
	return nil, errors.Wrapf(lastErr, "hostipc: no free port in %d-%d", ports.Start, ports.End)
}

func (s *Server) Port() int { return s.port }

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	log.Info().Int("port", s.port).Msg("hostipc: host listening")
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return errors.Wrap(err, "accept")
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting, drops subscribers and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subscribers
	s.subscribers = map[net.Conn]*sync.Mutex{}
	s.mu.Unlock()

	err := s.ln.Close()
	for conn := range subs {
		_ = conn.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// TriggerCapture captures and broadcasts screenshot-taken, the path used by
// the host's own shortcut and tray entry.
func (s *Server) TriggerCapture(ctx context.Context) (messages.Screenshot, error) {
	shot, err := s.backend.Capture(ctx)
	if err != nil {
		return messages.Screenshot{}, err
	}
	s.Publish(messages.Event{Type: messages.EventScreenshotTaken, Screenshot: &shot})
	return shot, nil
}

// RequestProcessing broadcasts process-requested.
func (s *Server) RequestProcessing() {
	s.Publish(messages.Event{Type: messages.EventProcessRequested})
}

// ToggleWindow broadcasts toggle-window.
func (s *Server) ToggleWindow() {
	if s.opts.OnToggleWindow != nil {
		s.opts.OnToggleWindow()
	}
	s.Publish(messages.Event{Type: messages.EventToggleWindow})
}

// Publish writes ev to every subscriber, dropping those that fail.
func (s *Server) Publish(ev messages.Event) {
	s.mu.Lock()
	targets := make(map[net.Conn]*sync.Mutex, len(s.subscribers))
	for c, m := range s.subscribers {
		targets[c] = m
	}
	s.mu.Unlock()

	for conn, wmu := range targets {
		wmu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		err := writeJSONLine(conn, ev)
		wmu.Unlock()
		if err != nil {
			log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("hostipc: dropping subscriber")
			s.dropSubscriber(conn)
		}
	}
	log.Debug().Str("event", string(ev.Type)).Int("subscribers", len(targets)).Msg("hostipc: event published")
}

func (s *Server) dropSubscriber(conn net.Conn) {
	s.mu.Lock()
	delete(s.subscribers, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(conn)
	line, err := readLine(br)
	if err != nil {
		_ = conn.Close()
		return
	}

	if strings.TrimSpace(string(line)) == strings.TrimSpace(pingRequest) {
		_, _ = conn.Write([]byte(pongResponse))
		_ = conn.Close()
		return
	}

	var req messages.Request
	if err := json.Unmarshal(line, &req); err != nil {
		_ = writeJSONLine(conn, messages.Response{Error: "malformed request"})
		_ = conn.Close()
		return
	}

	if req.Method == messages.MethodSubscribe {
		s.serveSubscriber(conn, br, req)
		return
	}
	defer conn.Close()

	hctx, cancel := context.WithTimeout(ctx, s.opts.HandlerTimeout)
	defer cancel()
	resp := s.dispatch(hctx, req)
	resp.ID = req.ID
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := writeJSONLine(conn, resp); err != nil {
		log.Warn().Err(err).Str("method", req.Method).Msg("hostipc: write response failed")
	}
}

func (s *Server) serveSubscriber(conn net.Conn, br *bufio.Reader, req messages.Request) {
	wmu := &sync.Mutex{}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.subscribers[conn] = wmu
	s.mu.Unlock()

	wmu.Lock()
	err := writeJSONLine(conn, messages.Response{ID: req.ID, Success: true})
	wmu.Unlock()
	if err != nil {
		s.dropSubscriber(conn)
		return
	}
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("hostipc: subscriber attached")

	// Block until the peer hangs up so the subscriber is dropped promptly.
	_ = conn.SetReadDeadline(time.Time{})
	for {
		if _, err := br.ReadByte(); err != nil {
			s.dropSubscriber(conn)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req messages.Request) messages.Response {
	fail := func(err error) messages.Response {
		log.Warn().Err(err).Str("method", req.Method).Msg("hostipc: request failed")
		return messages.Response{Error: err.Error()}
	}

	switch req.Method {
	case messages.MethodGetScreenshots:
		shots, err := s.backend.List(ctx)
		if err != nil {
			return fail(err)
		}
		return messages.Response{Success: true, Screenshots: shots}

	case messages.MethodTakeScreenshot:
		shot, err := s.backend.Capture(ctx)
		if err != nil {
			return fail(err)
		}
		return messages.Response{Success: true, Screenshot: &shot}

	case messages.MethodDeleteScreenshot:
		if req.Path == "" {
			return fail(errors.New("path is required"))
		}
		if err := s.backend.Delete(ctx, req.Path); err != nil {
			return fail(err)
		}
		return messages.Response{Success: true}

	case messages.MethodClearStore:
		if err := s.backend.Clear(ctx); err != nil {
			return fail(err)
		}
		return messages.Response{Success: true}

	case messages.MethodTriggerScreenshot:
		if _, err := s.TriggerCapture(ctx); err != nil {
			return fail(err)
		}
		return messages.Response{Success: true}

	case messages.MethodTriggerProcessScreenshots:
		s.RequestProcessing()
		return messages.Response{Success: true}

	case messages.MethodToggleMainWindow:
		s.ToggleWindow()
		return messages.Response{Success: true}

	case messages.MethodReportOverlaySize:
		if s.opts.OnOverlaySize != nil {
			s.opts.OnOverlaySize(req.Visible, req.Height)
		}
		log.Debug().Bool("visible", req.Visible).Int("height", req.Height).Msg("hostipc: overlay size")
		return messages.Response{Success: true}
	}
	return fail(errors.Errorf("unknown method %q", req.Method))
}
