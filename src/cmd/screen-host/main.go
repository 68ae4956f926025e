package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"screen-queue/src/capture"
	"screen-queue/src/config"
	"screen-queue/src/hostipc"
	"screen-queue/src/runtimeinit"
	"screen-queue/src/tray"
)

type hostOptions struct {
	screenshotDir string
	logLevel      string
	headless      bool
}

func main() {
	// The tray message loop must own the main thread.
	runtime.LockOSThread()
	enableDPIAwareness()

	if err := runWithArgs(normalizeLegacyArgs(os.Args)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"screen-host"}
	}
	opts := &hostOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *hostOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "screen-host",
		Short:         "Capture screenshots and serve them to screen-queue over loopback",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(*opts)
		},
	}
	cmd.Flags().StringVar(&opts.screenshotDir, "dir", "", "Screenshot directory (overrides SCREENSHOT_DIR)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Run without a tray icon")
	return cmd
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	normalized := make([]string, len(args))
	copy(normalized, args)
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range []string{"dir", "log-level", "headless"} {
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

func runWithOptions(opts hostOptions) error {
	cfg, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions: config.LoadOptions{
			ScreenshotDirOverride: opts.screenshotDir,
			LogLevelOverride:      opts.logLevel,
		},
	})
	if err != nil {
		return err
	}
	logMonitorConfiguration()

	store, err := capture.NewStore(cfg.ScreenshotDir)
	if err != nil {
		return err
	}

	ports := runtimeinit.Ports(cfg)
	if port, ok := hostipc.DetectHostPort(context.Background(), ports); ok {
		return errors.Errorf("a screen host is already running on port %d", port)
	}

	srv, err := hostipc.NewServer(store, ports, hostipc.ServerOptions{
		OnOverlaySize: func(visible bool, height int) {
			if visible {
				tray.UpdateTooltip(fmt.Sprintf("overlay %dpx", height))
			} else {
				tray.UpdateTooltip("")
			}
		},
	})
	if err != nil {
		return err
	}
	log.Info().Str("dir", store.Dir()).Int("port", srv.Port()).Msg("screen host started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })

	if opts.headless {
		<-gctx.Done()
		_ = srv.Close()
		return g.Wait()
	}

	g.Go(func() error {
		<-gctx.Done()
		tray.Quit()
		return nil
	})
	tray.Run(trayConfig(gctx, srv, store, cancel))
	cancel()
	return g.Wait()
}

func trayConfig(ctx context.Context, srv *hostipc.Server, store *capture.Store, cancel context.CancelFunc) tray.Config {
	return tray.Config{
		Title:   "Screen Host",
		Tooltip: "Screen Host",
		Port:    srv.Port(),
		OnCapture: func() {
			go func() {
				if _, err := srv.TriggerCapture(ctx); err != nil {
					log.Error().Err(err).Msg("tray capture failed")
				}
			}()
		},
		OnProcess: srv.RequestProcessing,
		OnToggle:  srv.ToggleWindow,
		OnClear: func() {
			go func() {
				if err := store.Clear(ctx); err != nil {
					log.Error().Err(err).Msg("tray clear failed")
				}
			}()
		},
		OnExit: cancel,
	}
}
