package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"screen-queue/src/clipboard"
	"screen-queue/src/config"
	"screen-queue/src/eventloop"
	"screen-queue/src/gui"
	"screen-queue/src/hostipc"
	"screen-queue/src/hotkey"
	"screen-queue/src/notify"
	"screen-queue/src/pipeline"
	"screen-queue/src/queue"
	"screen-queue/src/runtimeinit"
	"screen-queue/src/worker"
)

const hostWaitTimeout = 30 * time.Second

type mainOptions struct {
	processURL string
	logLevel   string
	noOverlay  bool
	noHotkeys  bool
}

func main() {
	// fyne needs the main thread.
	runtime.LockOSThread()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args))
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"screen-queue"}
	}
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "screen-queue",
		Short:         "Queue screenshots from the screen host and submit them for analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(*opts)
		},
	}
	cmd.Flags().StringVar(&opts.processURL, "process-url", "", "Analysis endpoint (overrides PROCESS_URL)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	cmd.Flags().BoolVar(&opts.noOverlay, "no-overlay", false, "Run without the overlay window")
	cmd.Flags().BoolVar(&opts.noHotkeys, "no-hotkeys", false, "Do not install the global keyboard hook")
	return cmd
}

// normalizeLegacyArgs maps single-dash long flags to the cobra form.
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	normalized := make([]string, len(args))
	copy(normalized, args)

	long := []string{"process-url", "log-level", "no-overlay", "no-hotkeys"}
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range long {
			switch {
			case arg == "-"+name:
				normalized[i] = "--" + name
			case strings.HasPrefix(arg, "-"+name+"="):
				normalized[i] = "-" + arg
			}
		}
	}
	return normalized
}

func runWithOptions(opts mainOptions) error {
	cfg, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions: config.LoadOptions{
			ProcessURLOverride: opts.processURL,
			LogLevelOverride:   opts.logLevel,
		},
		InitClipboard: true,
	})
	if err != nil {
		return err
	}
	if opts.noOverlay {
		cfg.EnableOverlay = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ports := runtimeinit.Ports(cfg)
	waitCtx, cancelWait := context.WithTimeout(ctx, hostWaitTimeout)
	port, err := runtimeinit.WaitForHost(waitCtx, ports, 0)
	cancelWait()
	if err != nil {
		return errors.Wrapf(err, "start screen-host first (ports %d-%d)", ports.Start, ports.End)
	}
	log.Info().Int("port", port).Msg("screen host found")

	host := hostipc.NewClient(ports)
	defer host.Close()

	q := queue.NewManager(host, cfg.QueueCapacity)
	pipe := pipeline.NewClient(cfg.ProcessURL, pipeline.WithTimeout(time.Duration(cfg.SubmitTimeoutSec)*time.Second))

	loopOpts := eventloop.Options{
		Host:     host,
		Queue:    q,
		Pipeline: pipe,
		Notifier: notify.Log{},
		Pool:     worker.New(4),
		Prompt:   pipeline.DefaultPrompt,
		Sink:     clipboard.NewResponseSink(cfg.CopyResponse),
	}
	if !opts.noHotkeys {
		bindings, err := hotkey.Bindings(cfg.CaptureHotkey, cfg.ProcessHotkey)
		if err != nil {
			return err
		}
		loopOpts.Keys = hotkey.SystemSource()
		loopOpts.Bindings = bindings
	}

	if !cfg.EnableOverlay {
		return ignoreCanceled(eventloop.New(loopOpts).Run(ctx))
	}
	return runWithOverlay(ctx, cfg, loopOpts, host, q)
}

// runWithOverlay runs the event loop beside the fyne app, which owns the
// main thread until the context ends.
func runWithOverlay(ctx context.Context, cfg *config.Config, loopOpts eventloop.Options, host *hostipc.Client, q *queue.Manager) error {
	a := app.NewWithID("dev.screen-queue")
	var loop *eventloop.Loop
	overlay := gui.NewOverlay(a, gui.Options{
		Actions:       actionsFunc(func() *eventloop.Loop { return loop }),
		Host:          host,
		CaptureChord:  cfg.CaptureHotkey,
		ProcessChord:  cfg.ProcessHotkey,
		QueueCapacity: cfg.QueueCapacity,
	})
	loopOpts.Notifier = notify.Multi{notify.Log{}, overlay}
	loopOpts.OnProcessing = overlay.SetProcessing
	loopOpts.OnToggleWindow = overlay.Toggle
	loop = eventloop.New(loopOpts)
	unbind := overlay.Bind(q)
	defer unbind()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(loop.Run(gctx))
	})
	g.Go(func() error {
		<-gctx.Done()
		fyne.Do(a.Quit)
		return nil
	})

	overlay.Show()
	a.Run()
	cancel()
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// actionsFunc resolves the loop lazily; the overlay is built before it.
type actionsFunc func() *eventloop.Loop

func (f actionsFunc) DeleteEntry(id uint64) bool { return f().DeleteEntry(id) }
func (f actionsFunc) ClearStore() bool           { return f().ClearStore() }
func (f actionsFunc) ToggleWindow() bool         { return f().ToggleWindow() }
func (f actionsFunc) TriggerCapture() bool       { return f().TriggerCapture() }
func (f actionsFunc) TriggerProcess() bool       { return f().TriggerProcess() }
