package eventloop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	gohook "github.com/robotn/gohook"
	"github.com/stretchr/testify/require"

	"screen-queue/src/hotkey"
	"screen-queue/src/messages"
	"screen-queue/src/notify"
	"screen-queue/src/pipeline"
	"screen-queue/src/queue"
)

type fakeHost struct {
	mu        sync.Mutex
	shots     []messages.Screenshot
	listErr   error
	refuse    bool
	taken     int
	cleared   int
	toggles   int
	deleted   []string
	handlers  map[messages.EventType]map[int]func(messages.Event)
	nextSubID int
	// onList runs at the start of every GetScreenshots call.
	onList func()
}

func newFakeHost(shots ...messages.Screenshot) *fakeHost {
	return &fakeHost{shots: shots, handlers: map[messages.EventType]map[int]func(messages.Event){}}
}

func (h *fakeHost) GetScreenshots(ctx context.Context) ([]messages.Screenshot, error) {
	if h.onList != nil {
		h.onList()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listErr != nil {
		return nil, h.listErr
	}
	return append([]messages.Screenshot(nil), h.shots...), nil
}

func (h *fakeHost) TakeScreenshot(ctx context.Context) (messages.Screenshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taken++
	s := messages.Screenshot{Path: "/shots/" + string(rune('a'+h.taken-1)) + ".png"}
	h.shots = append(h.shots, s)
	return s, nil
}

func (h *fakeHost) DeleteScreenshot(ctx context.Context, path string) (messages.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuse {
		return messages.Result{Success: false, Error: "locked"}, nil
	}
	h.deleted = append(h.deleted, path)
	return messages.Result{Success: true}, nil
}

func (h *fakeHost) ClearStore(ctx context.Context) (messages.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared++
	h.shots = nil
	return messages.Result{Success: true}, nil
}

func (h *fakeHost) ToggleMainWindow(ctx context.Context) (messages.Result, error) {
	h.mu.Lock()
	h.toggles++
	h.mu.Unlock()
	h.emit(messages.Event{Type: messages.EventToggleWindow})
	return messages.Result{Success: true}, nil
}

func (h *fakeHost) TriggerScreenshot(ctx context.Context) (messages.Result, error) {
	return messages.Result{Success: false, Error: "no display"}, nil
}

func (h *fakeHost) TriggerProcessScreenshots(ctx context.Context) (messages.Result, error) {
	h.emit(messages.Event{Type: messages.EventProcessRequested})
	return messages.Result{Success: true}, nil
}

func (h *fakeHost) ReportOverlaySize(ctx context.Context, visible bool, height int) error {
	return nil
}

func (h *fakeHost) OnScreenshotTaken(fn func(messages.Screenshot)) (func(), error) {
	return h.OnEvent(messages.EventScreenshotTaken, func(ev messages.Event) {
		if ev.Screenshot != nil {
			fn(*ev.Screenshot)
		}
	})
}

func (h *fakeHost) OnEvent(t messages.EventType, fn func(messages.Event)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers[t] == nil {
		h.handlers[t] = map[int]func(messages.Event){}
	}
	id := h.nextSubID
	h.nextSubID++
	h.handlers[t][id] = fn
	return func() {
		h.mu.Lock()
		delete(h.handlers[t], id)
		h.mu.Unlock()
	}, nil
}

func (h *fakeHost) emit(ev messages.Event) {
	h.mu.Lock()
	var fns []func(messages.Event)
	for _, fn := range h.handlers[ev.Type] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (h *fakeHost) subscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.handlers {
		n += len(m)
	}
	return n
}

type fakeSubmitter struct {
	calls  atomic.Int32
	res    pipeline.Result
	err    error
	block  chan struct{}
	panics atomic.Int32

	mu   sync.Mutex
	sent [][]string
}

func (f *fakeSubmitter) Submit(ctx context.Context, entries []queue.Entry, prompt string) (pipeline.Result, error) {
	f.calls.Add(1)
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	f.mu.Lock()
	f.sent = append(f.sent, paths)
	f.mu.Unlock()
	if f.panics.Load() > 0 {
		f.panics.Add(-1)
		panic("endpoint client exploded")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		}
	}
	return f.res, f.err
}

type harness struct {
	host    *fakeHost
	queue   *queue.Manager
	notices *notify.Recorder
	loop    *Loop
	cancel  context.CancelFunc
	done    chan error
	once    sync.Once
}

func start(t *testing.T, host *fakeHost, sub Submitter, mutate func(*Options)) *harness {
	t.Helper()
	q := queue.NewManager(host, 10)
	rec := &notify.Recorder{}
	opts := Options{Host: host, Queue: q, Pipeline: sub, Notifier: rec}
	if mutate != nil {
		mutate(&opts)
	}
	l := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{host: host, queue: q, notices: rec, loop: l, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- l.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			panic("event loop did not stop")
		}
	})
}

func (h *harness) waitNotice(t *testing.T, title string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, n := range h.notices.Notices() {
			if n.Title == title {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "notice %q never shown", title)
}

func (h *harness) count(title string) int {
	n := 0
	for _, notice := range h.notices.Notices() {
		if notice.Title == title {
			n++
		}
	}
	return n
}

func (h *harness) waitSubscribed(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.host.subscriptions() == 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestHydratesFromHost(t *testing.T) {
	host := newFakeHost(messages.Screenshot{Path: "/shots/old.png"})
	h := start(t, host, &fakeSubmitter{}, nil)
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestHydrateFailureIsNotFatal(t *testing.T) {
	host := newFakeHost()
	host.listErr = errors.New("host down")
	h := start(t, host, &fakeSubmitter{}, nil)
	h.waitNotice(t, msgLoadFailed)

	h.loop.Capture()
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestCaptureChordAppends(t *testing.T) {
	src := &chanSource{events: make(chan gohook.Event, 8)}
	bindings, err := hotkey.Bindings("Ctrl+Shift+H", "Ctrl+Shift+J")
	require.NoError(t, err)

	h := start(t, newFakeHost(), &fakeSubmitter{}, func(o *Options) {
		o.Keys = src
		o.Bindings = bindings
	})

	src.events <- gohook.Event{Kind: gohook.KeyDown, Keycode: gohook.Keycode["ctrl"]}
	src.events <- gohook.Event{Kind: gohook.KeyDown, Keycode: gohook.Keycode["shift"]}
	src.events <- gohook.Event{Kind: gohook.KeyDown, Keycode: gohook.Keycode["h"]}

	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, "/shots/a.png", h.queue.Snapshot()[0].Path)
}

func TestExternalCaptureEventAppends(t *testing.T) {
	h := start(t, newFakeHost(), &fakeSubmitter{}, nil)
	h.waitSubscribed(t)

	h.host.emit(messages.Event{Type: messages.EventScreenshotTaken, Screenshot: &messages.Screenshot{Path: "/shots/ext.png"}})
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestProcessEmptyQueue(t *testing.T) {
	sub := &fakeSubmitter{}
	h := start(t, newFakeHost(), sub, nil)

	h.loop.Process()
	h.waitNotice(t, msgNoScreenshots)
	require.Zero(t, sub.calls.Load())
}

func TestProcessSuccessDeliversToSink(t *testing.T) {
	sub := &fakeSubmitter{res: pipeline.Result{Status: 200, Body: []byte("answer")}}
	var delivered atomic.Value
	var states []bool
	var statesMu sync.Mutex
	h := start(t, newFakeHost(messages.Screenshot{Path: "/shots/a.png"}), sub, func(o *Options) {
		o.Sink = sinkFunc(func(b []byte) error { delivered.Store(string(b)); return nil })
		o.OnProcessing = func(b bool) {
			statesMu.Lock()
			states = append(states, b)
			statesMu.Unlock()
		}
	})
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	h.loop.Process()
	h.waitNotice(t, msgProcessed)
	require.Equal(t, "answer", delivered.Load())
	statesMu.Lock()
	require.Equal(t, []bool{true, false}, states)
	statesMu.Unlock()
}

func TestSecondProcessWhileInFlight(t *testing.T) {
	sub := &fakeSubmitter{block: make(chan struct{}), res: pipeline.Result{Status: 200}}
	h := start(t, newFakeHost(messages.Screenshot{Path: "/shots/a.png"}), sub, nil)
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	h.loop.Process()
	require.Eventually(t, func() bool { return sub.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	h.loop.Process()
	h.waitNotice(t, msgAlreadyProcessing)

	close(sub.block)
	h.waitNotice(t, msgProcessed)
	require.EqualValues(t, 1, sub.calls.Load())
}

func TestDeleteDuringSubmissionKeepsSubmittedSnapshot(t *testing.T) {
	sub := &fakeSubmitter{block: make(chan struct{}), res: pipeline.Result{Status: 200}}
	host := newFakeHost(messages.Screenshot{Path: "/shots/a.png"}, messages.Screenshot{Path: "/shots/b.png"})
	h := start(t, host, sub, nil)
	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, 3*time.Second, 10*time.Millisecond)

	h.loop.Process()
	require.Eventually(t, func() bool { return sub.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	h.loop.Delete(0)
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	close(sub.block)
	h.waitNotice(t, msgProcessed)
	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Equal(t, [][]string{{"/shots/a.png", "/shots/b.png"}}, sub.sent)
	require.Equal(t, []string{"/shots/b.png"}, paths(h.queue.Snapshot()))
}

func TestSubmitterPanicReturnsToIdle(t *testing.T) {
	sub := &fakeSubmitter{res: pipeline.Result{Status: 200}}
	sub.panics.Store(1)
	var states []bool
	var statesMu sync.Mutex
	h := start(t, newFakeHost(messages.Screenshot{Path: "/shots/a.png"}), sub, func(o *Options) {
		o.OnProcessing = func(b bool) {
			statesMu.Lock()
			states = append(states, b)
			statesMu.Unlock()
		}
	})
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	h.loop.Process()
	h.waitNotice(t, msgProcessFailed)

	h.loop.Process()
	h.waitNotice(t, msgProcessed)
	require.EqualValues(t, 2, sub.calls.Load())
	require.Zero(t, h.count(msgAlreadyProcessing))
	statesMu.Lock()
	require.Equal(t, []bool{true, false, true, false}, states)
	statesMu.Unlock()
}

func TestProcessTimeoutNotifiesOnce(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := pipeline.NewClient(srv.URL, pipeline.WithTimeout(150*time.Millisecond))
	h := start(t, newFakeHost(messages.Screenshot{Path: "/shots/a.png"}), client, nil)
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	h.loop.Process()
	h.waitNotice(t, msgProcessFailed)
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 1, h.count(msgProcessFailed))
	require.Equal(t, pipeline.Idle, client.State())
	require.Equal(t, 1, h.queue.Len(), "submission never mutates the queue")
}

func TestProcessRequestedEvent(t *testing.T) {
	sub := &fakeSubmitter{res: pipeline.Result{Status: 200}}
	h := start(t, newFakeHost(messages.Screenshot{Path: "/shots/a.png"}), sub, nil)
	h.waitSubscribed(t)

	h.loop.TriggerProcess()
	h.waitNotice(t, msgProcessed)
	require.EqualValues(t, 1, sub.calls.Load())
}

func TestDeleteRefusedKeepsEntry(t *testing.T) {
	host := newFakeHost(messages.Screenshot{Path: "/shots/a.png"}, messages.Screenshot{Path: "/shots/b.png"})
	host.refuse = true
	h := start(t, host, &fakeSubmitter{}, nil)
	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, 3*time.Second, 10*time.Millisecond)

	h.loop.Delete(0)
	h.waitNotice(t, msgDeleteFailed)
	require.Equal(t, 2, h.queue.Len())
}

func TestDeleteRemoves(t *testing.T) {
	host := newFakeHost(messages.Screenshot{Path: "/shots/a.png"}, messages.Screenshot{Path: "/shots/b.png"})
	h := start(t, host, &fakeSubmitter{}, nil)
	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, 3*time.Second, 10*time.Millisecond)

	h.loop.Delete(0)
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, "/shots/b.png", h.queue.Snapshot()[0].Path)

	h.loop.Delete(7)
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, h.count(msgDeleteFailed))
}

func TestDeleteEntryFollowsEviction(t *testing.T) {
	var shots []messages.Screenshot
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		shots = append(shots, messages.Screenshot{Path: "/shots/" + name + ".png"})
	}
	h := start(t, newFakeHost(shots...), &fakeSubmitter{}, nil)
	require.Eventually(t, func() bool { return h.queue.Len() == 10 }, 3*time.Second, 10*time.Millisecond)
	h.waitSubscribed(t)

	// The row for b was rendered at index 1; an external capture evicts a.
	b := h.queue.Snapshot()[1]
	h.host.emit(messages.Event{Type: messages.EventScreenshotTaken, Screenshot: &messages.Screenshot{Path: "/shots/k.png"}})
	require.Eventually(t, func() bool { return h.queue.Contains("/shots/k.png") }, 3*time.Second, 10*time.Millisecond)

	h.loop.DeleteEntry(b.ID)
	require.Eventually(t, func() bool { return h.queue.Len() == 9 }, 3*time.Second, 10*time.Millisecond)
	require.False(t, h.queue.Contains("/shots/b.png"))
	require.True(t, h.queue.Contains("/shots/c.png"))
	h.host.mu.Lock()
	require.Equal(t, []string{"/shots/b.png"}, h.host.deleted)
	h.host.mu.Unlock()
}

func TestCapturesPushedDuringHydrateAreKeptOnce(t *testing.T) {
	host := newFakeHost(messages.Screenshot{Path: "/shots/old.png"})
	var once sync.Once
	host.onList = func() {
		once.Do(func() {
			// One capture the snapshot already holds, one it missed.
			host.emit(messages.Event{Type: messages.EventScreenshotTaken, Screenshot: &messages.Screenshot{Path: "/shots/old.png"}})
			host.emit(messages.Event{Type: messages.EventScreenshotTaken, Screenshot: &messages.Screenshot{Path: "/shots/new.png"}})
		})
	}
	h := start(t, host, &fakeSubmitter{}, nil)

	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"/shots/old.png", "/shots/new.png"}, paths(h.queue.Snapshot()))
}

func TestClearStoreRehydrates(t *testing.T) {
	host := newFakeHost(messages.Screenshot{Path: "/shots/a.png"})
	h := start(t, host, &fakeSubmitter{}, nil)
	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	h.loop.ClearStore()
	require.Eventually(t, func() bool { return h.queue.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
	host.mu.Lock()
	require.Equal(t, 1, host.cleared)
	host.mu.Unlock()
}

func TestToggleAndTriggerFailures(t *testing.T) {
	var toggled atomic.Int32
	h := start(t, newFakeHost(), &fakeSubmitter{}, func(o *Options) {
		o.OnToggleWindow = func() { toggled.Add(1) }
	})
	h.waitSubscribed(t)

	h.loop.ToggleWindow()
	require.Eventually(t, func() bool { return toggled.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	h.loop.TriggerCapture()
	h.waitNotice(t, msgCaptureFailed)
}

func TestUnsubscribesOnExit(t *testing.T) {
	h := start(t, newFakeHost(), &fakeSubmitter{}, nil)
	h.waitSubscribed(t)
	h.stop()
	require.Zero(t, h.host.subscriptions())
}

func paths(entries []queue.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

type sinkFunc func([]byte) error

func (f sinkFunc) Deliver(b []byte) error { return f(b) }

type chanSource struct {
	events chan gohook.Event
}

func (s *chanSource) Start() chan gohook.Event { return s.events }
func (s *chanSource) End()                     {}
