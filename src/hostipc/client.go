package hostipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"screen-queue/src/apperr"
	"screen-queue/src/messages"
)

const (
	defaultCallTimeout  = 5 * time.Second
	maxResponseBytes    = 16 << 20
	streamRetryInterval = 2 * time.Second
)

// Client talks to a host over TCP loopback. Each call uses its own
// connection; push events arrive on one long-lived subscribe connection
// that is opened on the first OnEvent and re-established if it drops.
type Client struct {
	ports       PortRange
	callTimeout time.Duration

	addrMu sync.Mutex
	addr   string

	hub        *eventHub
	streamMu   sync.Mutex
	streamStop context.CancelFunc
	streamDone chan struct{}
}

var _ Host = (*Client)(nil)

func NewClient(ports PortRange) *Client {
	return &Client{
		ports:       ports.normalized(),
		callTimeout: defaultCallTimeout,
		hub:         newEventHub(),
	}
}

// SetCallTimeout bounds calls whose context has no deadline.
func (c *Client) SetCallTimeout(d time.Duration) {
	if d > 0 {
		c.callTimeout = d
	}
}

func (c *Client) GetScreenshots(ctx context.Context) ([]messages.Screenshot, error) {
	resp, err := c.call(ctx, messages.Request{Method: messages.MethodGetScreenshots})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, apperr.New(apperr.KindIPC, messages.MethodGetScreenshots, resp.Error)
	}
	return resp.Screenshots, nil
}

func (c *Client) TakeScreenshot(ctx context.Context) (messages.Screenshot, error) {
	resp, err := c.call(ctx, messages.Request{Method: messages.MethodTakeScreenshot})
	if err != nil {
		return messages.Screenshot{}, err
	}
	if !resp.Success || resp.Screenshot == nil {
		msg := resp.Error
		if msg == "" {
			msg = "host returned no screenshot"
		}
		return messages.Screenshot{}, apperr.New(apperr.KindCapture, messages.MethodTakeScreenshot, msg)
	}
	return *resp.Screenshot, nil
}

func (c *Client) DeleteScreenshot(ctx context.Context, path string) (messages.Result, error) {
	return c.result(ctx, messages.Request{Method: messages.MethodDeleteScreenshot, Path: path})
}

func (c *Client) ClearStore(ctx context.Context) (messages.Result, error) {
	return c.result(ctx, messages.Request{Method: messages.MethodClearStore})
}

func (c *Client) ToggleMainWindow(ctx context.Context) (messages.Result, error) {
	return c.result(ctx, messages.Request{Method: messages.MethodToggleMainWindow})
}

func (c *Client) TriggerScreenshot(ctx context.Context) (messages.Result, error) {
	return c.result(ctx, messages.Request{Method: messages.MethodTriggerScreenshot})
}

func (c *Client) TriggerProcessScreenshots(ctx context.Context) (messages.Result, error) {
	return c.result(ctx, messages.Request{Method: messages.MethodTriggerProcessScreenshots})
}

func (c *Client) ReportOverlaySize(ctx context.Context, visible bool, height int) error {
	res, err := c.result(ctx, messages.Request{Method: messages.MethodReportOverlaySize, Visible: visible, Height: height})
	if err != nil {
		return err
	}
	if !res.Success {
		return apperr.New(apperr.KindIPC, messages.MethodReportOverlaySize, res.Error)
	}
	return nil
}

func (c *Client) OnScreenshotTaken(fn func(messages.Screenshot)) (func(), error) {
	return c.OnEvent(messages.EventScreenshotTaken, func(ev messages.Event) {
		if ev.Screenshot != nil {
			fn(*ev.Screenshot)
		}
	})
}

func (c *Client) OnEvent(t messages.EventType, fn func(messages.Event)) (func(), error) {
	unsubscribe, err := c.hub.subscribe(t, fn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIPC, "subscribe "+string(t), err)
	}
	c.ensureStream()
	return unsubscribe, nil
}

// Close stops the event stream and releases subscribers.
func (c *Client) Close() error {
	c.streamMu.Lock()
	stop, done := c.streamStop, c.streamDone
	c.streamStop, c.streamDone = nil, nil
	c.streamMu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	return c.hub.close()
}

func (c *Client) result(ctx context.Context, req messages.Request) (messages.Result, error) {
	resp, err := c.call(ctx, req)
	if err != nil {
		return messages.Result{}, err
	}
	return resp.Result(), nil
}

func (c *Client) call(ctx context.Context, req messages.Request) (messages.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	req.ID = uuid.NewString()

	conn, err := c.dial(ctx)
	if err != nil {
		return messages.Response{}, apperr.Wrap(apperr.KindIPC, req.Method, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := writeJSONLine(conn, req); err != nil {
		c.forgetAddr()
		return messages.Response{}, apperr.Wrap(apperr.KindIPC, req.Method, err)
	}

	var resp messages.Response
	if err := readJSONLine(bufio.NewReader(conn), &resp); err != nil {
		return messages.Response{}, apperr.Wrap(apperr.KindIPC, req.Method, err)
	}
	if resp.ID != req.ID {
		return messages.Response{}, apperr.New(apperr.KindIPC, req.Method, "response id mismatch")
	}
	log.Debug().Str("method", req.Method).Str("id", req.ID).Bool("success", resp.Success).Msg("hostipc: call done")
	return resp, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	addr, err := c.resolveAddr(ctx)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.forgetAddr()
		return nil, errors.Wrapf(err, "dial host %s", addr)
	}
	return conn, nil
}

func (c *Client) resolveAddr(ctx context.Context) (string, error) {
	c.addrMu.Lock()
	defer c.addrMu.Unlock()
	if c.addr != "" {
		return c.addr, nil
	}
	port, ok := DetectHostPort(ctx, c.ports)
	if !ok {
		return "", errors.Errorf("no host listening on ports %d-%d", c.ports.Start, c.ports.End)
	}
	c.addr = net.JoinHostPort(hostAddr, strconv.Itoa(port))
	log.Info().Str("addr", c.addr).Msg("hostipc: host detected")
	return c.addr, nil
}

func (c *Client) forgetAddr() {
	c.addrMu.Lock()
	c.addr = ""
	c.addrMu.Unlock()
}

func (c *Client) ensureStream() {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.streamStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.streamStop = cancel
	c.streamDone = make(chan struct{})
	go c.runStream(ctx, c.streamDone)
}

func (c *Client) runStream(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := c.streamOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", streamRetryInterval).Msg("hostipc: event stream interrupted")
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRetryInterval):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	conn, err := c.dial(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	req := messages.Request{ID: uuid.NewString(), Method: messages.MethodSubscribe}
	if err := writeJSONLine(conn, req); err != nil {
		return err
	}
	br := bufio.NewReader(conn)
	var ack messages.Response
	if err := readJSONLine(br, &ack); err != nil {
		return err
	}
	if !ack.Success {
		return errors.Errorf("subscribe refused: %s", ack.Error)
	}
	log.Info().Msg("hostipc: event stream established")

	for {
		var ev messages.Event
		if err := readJSONLine(br, &ev); err != nil {
			return err
		}
		if err := c.hub.publish(ev); err != nil {
			log.Warn().Err(err).Str("event", string(ev.Type)).Msg("hostipc: publish failed")
		}
	}
}

func writeJSONLine(conn net.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	w := bufio.NewWriter(conn)
	if _, err := w.Write(append(b, '\n')); err != nil {
		return errors.Wrap(err, "write")
	}
	return errors.Wrap(w.Flush(), "flush")
}

func readJSONLine(br *bufio.Reader, v any) error {
	line, err := readLine(br)
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(line, v), "decode")
}

func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, errors.Wrap(err, "read")
		}
		line = append(line, chunk...)
		if len(line) > maxResponseBytes {
			return nil, errors.New("line too long")
		}
		if !isPrefix {
			return line, nil
		}
	}
}
