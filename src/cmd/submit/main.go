package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"screen-queue/src/config"
	"screen-queue/src/pipeline"
	"screen-queue/src/queue"
	"screen-queue/src/runtimeinit"
)

type submitOptions struct {
	url        string
	prompt     string
	jsonOutput bool
	verbose    bool
	timeout    time.Duration
}

func main() {
	if err := runWithArgs(normalizeLegacyArgs(os.Args), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWithArgs(args []string, out io.Writer) error {
	if len(args) == 0 {
		args = []string{"submit"}
	}
	opts := &submitOptions{}
	cmd := newRootCmd(opts, out)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *submitOptions, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "submit [flags] image...",
		Short:         "Post screenshot paths to the analysis endpoint once",
		Args:          cobra.RangeArgs(1, queue.DefaultCapacity),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(cmd.Context(), *opts, args, out)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Processing endpoint (overrides PROCESS_URL)")
	cmd.Flags().StringVar(&opts.prompt, "prompt", pipeline.DefaultPrompt, "Prompt sent as text_prompt")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the result as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Request timeout (overrides SUBMIT_TIMEOUT_SEC)")
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
		for _, name := range []string{"url", "prompt", "json", "verbose", "timeout"} {
			switch {
			case arg == "-"+name:
				normalized[i] = "--" + name
			case strings.HasPrefix(arg, "-"+name+"="):
				normalized[i] = "--" + arg[1:]
			}
		}
	}
	return normalized
}

func runWithOptions(ctx context.Context, opts submitOptions, paths []string, out io.Writer) error {
	console := io.Discard
	if opts.verbose {
		console = os.Stderr
	}
	cfg, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions: config.LoadOptions{ProcessURLOverride: opts.url},
		Console:     console,
	})
	if err != nil {
		return err
	}

	entries, err := entriesFor(paths)
	if err != nil {
		return err
	}

	timeout := opts.timeout
	if timeout <= 0 {
		timeout = time.Duration(cfg.SubmitTimeoutSec) * time.Second
	}
	client := pipeline.NewClient(cfg.ProcessURL, pipeline.WithTimeout(timeout))

	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	res, err := client.Submit(ctx, entries, opts.prompt)
	elapsed := time.Since(start)
	if err != nil {
		return errors.Wrap(err, "submission failed")
	}
	log.Info().Int("status", res.Status).Dur("elapsed", elapsed).Msg("submit: done")

	if err := writeResult(out, client.URL(), entries, res, elapsed, opts.jsonOutput); err != nil {
		return err
	}
	if !res.OK() {
		return errors.Errorf("endpoint answered %d", res.Status)
	}
	return nil
}

// entriesFor resolves paths to absolute form so the endpoint can open them.
func entriesFor(paths []string) ([]queue.Entry, error) {
	entries := make([]queue.Entry, 0, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s", p)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", p)
		}
		if info.IsDir() {
			return nil, errors.Errorf("%s is a directory", p)
		}
		entries = append(entries, queue.Entry{ID: uint64(i + 1), Path: abs})
	}
	return entries, nil
}

type SubmitResult struct {
	URL       string   `json:"url"`
	Images    []string `json:"images"`
	Status    int      `json:"status"`
	Body      string   `json:"body"`
	Timestamp string   `json:"timestamp"`
	Duration  float64  `json:"duration_seconds"`
}

func writeResult(out io.Writer, url string, entries []queue.Entry, res pipeline.Result, elapsed time.Duration, jsonOutput bool) error {
	if !jsonOutput {
		_, err := out.Write(res.Body)
		return err
	}
	images := make([]string, len(entries))
	for i, e := range entries {
		images[i] = e.Path
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return errors.Wrap(encoder.Encode(SubmitResult{
		URL:       url,
		Images:    images,
		Status:    res.Status,
		Body:      string(res.Body),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  elapsed.Seconds(),
	}), "failed to encode JSON output")
}
