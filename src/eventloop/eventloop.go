package eventloop

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"screen-queue/src/apperr"
	"screen-queue/src/hostipc"
	"screen-queue/src/hotkey"
	"screen-queue/src/messages"
	"screen-queue/src/notify"
	"screen-queue/src/pipeline"
	"screen-queue/src/queue"
	"screen-queue/src/worker"
)

// User-facing notice texts.
const (
	msgNoScreenshots     = "No screenshots to process."
	msgAlreadyProcessing = "Already processing screenshots."
	msgProcessed         = "Processing completed successfully!"
	msgProcessFailed     = "Failed to process screenshots."
	msgDeleteFailed      = "Failed to delete the screenshot file."
	msgCaptureFailed     = "Failed to take screenshot"
	msgToggleFailed      = "Failed to toggle window"
	msgClearFailed       = "Failed to clear screenshots"
	msgLoadFailed        = "Could not load existing screenshots"
	msgBusy              = "Busy, please retry"
)

const hostCallTimeout = 10 * time.Second

// ActionKind names something the loop can be asked to do.
type ActionKind int

const (
	ActionCapture ActionKind = iota
	ActionProcess
	ActionDelete
	ActionClearStore
	ActionToggleWindow
	ActionTriggerCapture
	ActionTriggerProcess
)

func (k ActionKind) String() string {
	switch k {
	case ActionCapture:
		return "capture"
	case ActionProcess:
		return "process"
	case ActionDelete:
		return "delete"
	case ActionClearStore:
		return "clear-store"
	case ActionToggleWindow:
		return "toggle-window"
	case ActionTriggerCapture:
		return "trigger-capture"
	case ActionTriggerProcess:
		return "trigger-process"
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Action is one request posted to the loop. ActionDelete removes the entry
// with ID when ID is set and the entry at Index otherwise.
type Action struct {
	Kind  ActionKind
	Index int
	ID    uint64
}

// Submitter is the processing pipeline as seen by the loop.
type Submitter interface {
	Submit(ctx context.Context, entries []queue.Entry, prompt string) (pipeline.Result, error)
}

// ResponseSink receives delivered response bodies.
type ResponseSink interface {
	Deliver(body []byte) error
}

// Options wires the loop's collaborators.
type Options struct {
	Host     hostipc.Host
	Queue    *queue.Manager
	Pipeline Submitter
	Notifier notify.Notifier

	// Keys is the keyboard source; nil disables chords.
	Keys     hotkey.Source
	Bindings []hotkey.Binding

	Pool   *worker.Pool
	Prompt string
	Sink   ResponseSink

	// OnProcessing is told when a submission starts and ends.
	OnProcessing func(bool)
	// OnToggleWindow runs for every toggle-window event from the host.
	OnToggleWindow func()
}

// Loop is the single-threaded coordinator for chords, host events and
// blocking work. Only the Run goroutine touches processing.
type Loop struct {
	opts Options
	pool *worker.Pool

	actions     chan Action
	commands    chan hotkey.Command
	shots       chan messages.Screenshot
	completions chan func()

	processing bool
}

func New(opts Options) *Loop {
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	if opts.Prompt == "" {
		opts.Prompt = pipeline.DefaultPrompt
	}
	pool := opts.Pool
	if pool == nil {
		pool = worker.New(4)
	}
	return &Loop{
		opts:        opts,
		pool:        pool,
		actions:     make(chan Action, 8),
		commands:    make(chan hotkey.Command, 1),
		shots:       make(chan messages.Screenshot, 16),
		completions: make(chan func(), 8),
	}
}

// Post queues an action without blocking. It returns false if the loop is
// saturated.
func (l *Loop) Post(a Action) bool {
	select {
	case l.actions <- a:
		return true
	default:
		log.Warn().Str("action", a.Kind.String()).Msg("eventloop: action dropped, loop saturated")
		return false
	}
}

func (l *Loop) Capture() bool         { return l.Post(Action{Kind: ActionCapture}) }
func (l *Loop) Process() bool         { return l.Post(Action{Kind: ActionProcess}) }
func (l *Loop) Delete(index int) bool { return l.Post(Action{Kind: ActionDelete, Index: index}) }
func (l *Loop) ClearStore() bool      { return l.Post(Action{Kind: ActionClearStore}) }
func (l *Loop) ToggleWindow() bool    { return l.Post(Action{Kind: ActionToggleWindow}) }
func (l *Loop) TriggerCapture() bool  { return l.Post(Action{Kind: ActionTriggerCapture}) }
func (l *Loop) TriggerProcess() bool  { return l.Post(Action{Kind: ActionTriggerProcess}) }

// DeleteEntry deletes by entry ID, so rows rendered before an eviction
// still delete the capture they show.
func (l *Loop) DeleteEntry(id uint64) bool {
	return l.Post(Action{Kind: ActionDelete, ID: id})
}

// Run subscribes to host events, hydrates the queue, starts the keyboard
// dispatcher and serves actions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	var unsubscribes []func()
	defer func() {
		// Order matters: stop senders before waiting on subscribers and jobs.
		cancel()
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
		l.pool.Close()
		log.Info().Msg("eventloop: stopped")
	}()

	// Subscribe first so captures pushed while hydrating are kept; they wait
	// in l.shots and are skipped if the host snapshot already had them.
	unsubscribes = l.subscribe(runCtx)
	l.hydrate(runCtx)

	if l.opts.Keys != nil && len(l.opts.Bindings) > 0 {
		d := hotkey.NewDispatcher(l.opts.Keys, l.commands, l.opts.Bindings...)
		done := make(chan struct{})
		go func() {
			defer close(done)
			d.Run(runCtx)
		}()
		unsubscribes = append(unsubscribes, func() { <-done })
	}

	log.Info().Int("queued", l.opts.Queue.Len()).Msg("eventloop: running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-l.commands:
			l.handleCommand(runCtx, cmd)
		case a := <-l.actions:
			l.handleAction(runCtx, a)
		case shot := <-l.shots:
			l.queueExternal(shot)
		case done := <-l.completions:
			done()
		}
	}
}

func (l *Loop) queueExternal(shot messages.Screenshot) {
	if l.opts.Queue.Contains(shot.Path) {
		log.Debug().Str("path", shot.Path).Msg("eventloop: capture already queued")
		return
	}
	e := l.opts.Queue.Append(shot)
	log.Info().Uint64("id", e.ID).Str("path", e.Path).Msg("eventloop: external capture queued")
}

func (l *Loop) hydrate(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, hostCallTimeout)
	defer cancel()
	if _, err := l.opts.Queue.Load(hctx); err != nil {
		log.Warn().Err(err).Msg("eventloop: hydrate failed, starting empty")
		l.opts.Notifier.Notify(notify.Warning(msgLoadFailed, err.Error()))
	}
}

func (l *Loop) subscribe(ctx context.Context) []func() {
	var unsubscribes []func()
	add := func(what string, unsubscribe func(), err error) {
		if err != nil {
			log.Warn().Err(err).Str("event", what).Msg("eventloop: subscribe failed")
			return
		}
		unsubscribes = append(unsubscribes, unsubscribe)
	}

	unsubscribe, err := l.opts.Host.OnScreenshotTaken(func(s messages.Screenshot) {
		select {
		case l.shots <- s:
		case <-ctx.Done():
		}
	})
	add(string(messages.EventScreenshotTaken), unsubscribe, err)

	unsubscribe, err = l.opts.Host.OnEvent(messages.EventProcessRequested, func(messages.Event) {
		l.Process()
	})
	add(string(messages.EventProcessRequested), unsubscribe, err)

	unsubscribe, err = l.opts.Host.OnEvent(messages.EventToggleWindow, func(messages.Event) {
		if l.opts.OnToggleWindow != nil {
			l.opts.OnToggleWindow()
		}
	})
	add(string(messages.EventToggleWindow), unsubscribe, err)

	return unsubscribes
}

func (l *Loop) handleCommand(ctx context.Context, cmd hotkey.Command) {
	switch cmd {
	case hotkey.CommandCapture:
		l.handleAction(ctx, Action{Kind: ActionCapture})
	case hotkey.CommandProcess:
		l.handleAction(ctx, Action{Kind: ActionProcess})
	default:
		log.Warn().Str("command", string(cmd)).Msg("eventloop: unknown command")
	}
}

func (l *Loop) handleAction(ctx context.Context, a Action) {
	log.Debug().Str("action", a.Kind.String()).Int("index", a.Index).Uint64("id", a.ID).Msg("eventloop: action")
	switch a.Kind {
	case ActionCapture:
		l.startCapture(ctx)
	case ActionProcess:
		l.startProcessing(ctx)
	case ActionDelete:
		l.startDelete(ctx, a)
	case ActionClearStore:
		l.startClearStore(ctx)
	case ActionToggleWindow:
		l.hostCall(ctx, "toggle-window", msgToggleFailed, l.opts.Host.ToggleMainWindow)
	case ActionTriggerCapture:
		l.hostCall(ctx, "trigger-capture", msgCaptureFailed, l.opts.Host.TriggerScreenshot)
	case ActionTriggerProcess:
		l.hostCall(ctx, "trigger-process", msgProcessFailed, l.opts.Host.TriggerProcessScreenshots)
	}
}

// submit runs fn on the pool; fn returns the completion to apply on the
// loop. If fn panics, onPanic runs on the loop instead.
func (l *Loop) submit(ctx context.Context, name string, fn func(ctx context.Context) func(), onPanic func(error)) bool {
	return l.pool.Submit(ctx, name, func(ctx context.Context) {
		done := guard(ctx, name, fn, onPanic)
		if done == nil {
			return
		}
		select {
		case l.completions <- done:
		case <-ctx.Done():
		}
	})
}

func guard(ctx context.Context, name string, fn func(ctx context.Context) func(), onPanic func(error)) (done func()) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("%s panicked: %v", name, r)
			log.Error().Err(err).Msg("eventloop: job panicked")
			done = func() { onPanic(err) }
		}
	}()
	return fn(ctx)
}

// failed returns an onPanic handler that shows an error notice.
func (l *Loop) failed(title string) func(error) {
	return func(err error) {
		l.opts.Notifier.Notify(notify.Error(title, err.Error()))
	}
}

func (l *Loop) startCapture(ctx context.Context) {
	ok := l.submit(ctx, "capture", func(ctx context.Context) func() {
		cctx, cancel := context.WithTimeout(ctx, hostCallTimeout)
		defer cancel()
		shot, err := l.opts.Host.TakeScreenshot(cctx)
		return func() {
			if err != nil {
				log.Error().Err(err).Msg("eventloop: capture failed")
				l.opts.Notifier.Notify(notify.Error(msgCaptureFailed, err.Error()))
				return
			}
			e := l.opts.Queue.Append(shot)
			log.Info().Uint64("id", e.ID).Str("path", e.Path).Msg("eventloop: capture queued")
		}
	}, l.failed(msgCaptureFailed))
	if !ok {
		l.opts.Notifier.Notify(notify.Warning(msgBusy, "capture"))
	}
}

func (l *Loop) startProcessing(ctx context.Context) {
	if l.processing {
		l.opts.Notifier.Notify(notify.Info(msgAlreadyProcessing, ""))
		return
	}
	snapshot := l.opts.Queue.Snapshot()
	if len(snapshot) == 0 {
		l.opts.Notifier.Notify(notify.Info(msgNoScreenshots, ""))
		return
	}

	l.setProcessing(true)
	ok := l.submit(ctx, "process", func(ctx context.Context) func() {
		res, err := l.opts.Pipeline.Submit(ctx, snapshot, l.opts.Prompt)
		return func() { l.finishProcessing(res, err) }
	}, func(err error) {
		l.finishProcessing(pipeline.Result{}, apperr.Wrap(apperr.KindSubmission, "submit", err))
	})
	if !ok {
		l.setProcessing(false)
		l.opts.Notifier.Notify(notify.Warning(msgBusy, "process"))
	}
}

func (l *Loop) finishProcessing(res pipeline.Result, err error) {
	l.setProcessing(false)
	switch {
	case errors.Is(err, pipeline.ErrInFlight):
		l.opts.Notifier.Notify(notify.Info(msgAlreadyProcessing, ""))
	case errors.Is(err, pipeline.ErrEmptyQueue):
		l.opts.Notifier.Notify(notify.Info(msgNoScreenshots, ""))
	case err != nil:
		log.Error().Err(err).Msg("eventloop: processing failed")
		l.opts.Notifier.Notify(notify.Error(msgProcessFailed, err.Error()))
	case !res.OK():
		l.opts.Notifier.Notify(notify.Warning(msgProcessed, fmt.Sprintf("Server responded with status %d", res.Status)))
	default:
		l.opts.Notifier.Notify(notify.Info(msgProcessed, ""))
		if l.opts.Sink != nil {
			if err := l.opts.Sink.Deliver(res.Body); err != nil {
				log.Warn().Err(err).Msg("eventloop: response sink failed")
			}
		}
	}
}

func (l *Loop) setProcessing(b bool) {
	l.processing = b
	if l.opts.OnProcessing != nil {
		l.opts.OnProcessing(b)
	}
}

func (l *Loop) startDelete(ctx context.Context, a Action) {
	ok := l.submit(ctx, "delete", func(ctx context.Context) func() {
		dctx, cancel := context.WithTimeout(ctx, hostCallTimeout)
		defer cancel()
		var err error
		if a.ID != 0 {
			err = l.opts.Queue.RemoveID(dctx, a.ID)
		} else {
			err = l.opts.Queue.RemoveAt(dctx, a.Index)
		}
		return func() {
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrIndexOutOfRange), errors.Is(err, queue.ErrEntryNotFound):
				log.Warn().Err(err).Int("index", a.Index).Uint64("id", a.ID).Msg("eventloop: delete ignored")
			default:
				log.Error().Err(err).Int("index", a.Index).Uint64("id", a.ID).Msg("eventloop: delete failed")
				l.opts.Notifier.Notify(notify.Error(msgDeleteFailed, err.Error()))
			}
		}
	}, l.failed(msgDeleteFailed))
	if !ok {
		l.opts.Notifier.Notify(notify.Warning(msgBusy, "delete"))
	}
}

func (l *Loop) startClearStore(ctx context.Context) {
	ok := l.submit(ctx, "clear-store", func(ctx context.Context) func() {
		cctx, cancel := context.WithTimeout(ctx, hostCallTimeout)
		defer cancel()
		res, err := l.opts.Host.ClearStore(cctx)
		if err == nil && !res.Success {
			err = apperr.New(apperr.KindIPC, messages.MethodClearStore, res.Error)
		}
		if err != nil {
			return func() {
				log.Error().Err(err).Msg("eventloop: clear store failed")
				l.opts.Notifier.Notify(notify.Error(msgClearFailed, err.Error()))
			}
		}
		l.opts.Queue.Reset()
		if _, err := l.opts.Queue.Load(cctx); err != nil {
			return func() {
				l.opts.Notifier.Notify(notify.Warning(msgLoadFailed, err.Error()))
			}
		}
		return nil
	}, l.failed(msgClearFailed))
	if !ok {
		l.opts.Notifier.Notify(notify.Warning(msgBusy, "clear"))
	}
}

func (l *Loop) hostCall(ctx context.Context, name, failure string, call func(context.Context) (messages.Result, error)) {
	ok := l.submit(ctx, name, func(ctx context.Context) func() {
		cctx, cancel := context.WithTimeout(ctx, hostCallTimeout)
		defer cancel()
		res, err := call(cctx)
		if err == nil && !res.Success {
			err = apperr.New(apperr.KindIPC, name, res.Error)
		}
		if err == nil {
			return nil
		}
		return func() {
			log.Error().Err(err).Str("call", name).Msg("eventloop: host call failed")
			l.opts.Notifier.Notify(notify.Error(failure, err.Error()))
		}
	}, l.failed(failure))
	if !ok {
		l.opts.Notifier.Notify(notify.Warning(msgBusy, name))
	}
}
