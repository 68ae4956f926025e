package pipeline

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"screen-queue/src/apperr"
	"screen-queue/src/logutil"
	"screen-queue/src/queue"
)

const (
	DefaultURL     = "http://0.0.0.0:8000/process_images"
	DefaultTimeout = 30 * time.Second

	promptField   = "text_prompt"
	maxBodyBytes  = 4 << 20
	logPreviewLen = 200
)

// DefaultPrompt is the instruction sent with every submission.
const DefaultPrompt = "Analyze the coding problem in the images and provide three possible solutions with different approaches and trade-offs. For each solution, include: \n" +
	"1. Initial thoughts: 2-3 first impressions and key observations about the problem\n" +
	"2. Thought steps: A natural progression of how you would think through implementing this solution, as if explaining to an interviewer\n" +
	"3. Detailed explanation of the approach and its trade-offs\n" +
	"4. Complete, well-commented code implementation\n" +
	"Structure the solutions from simplest/most intuitive to most optimized. Focus on clear explanation and clean code."

var (
	ErrEmptyQueue = errors.New("no screenshots to process")
	ErrInFlight   = errors.New("processing already in flight")
)

// State is the submission state.
type State int

const (
	Idle State = iota
	InFlight
)

func (s State) String() string {
	if s == InFlight {
		return "in-flight"
	}
	return "idle"
}

// Result is the delivered HTTP response.
type Result struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r Result) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Client posts capture snapshots to the analysis endpoint, one at a time.
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	inFlight   atomic.Bool
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{url: url, timeout: DefaultTimeout, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) URL() string { return c.url }

func (c *Client) State() State {
	if c.inFlight.Load() {
		return InFlight
	}
	return Idle
}

func (c *Client) InFlight() bool { return c.inFlight.Load() }

// Submit sends entries with prompt as one multipart POST. An empty snapshot
// or a submission already in flight is rejected without a network call.
// Any HTTP response counts as delivered; transport errors and timeouts come
// back as submission errors.
func (c *Client) Submit(ctx context.Context, entries []queue.Entry, prompt string) (Result, error) {
	if len(entries) == 0 {
		return Result{}, ErrEmptyQueue
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrInFlight
	}
	defer c.inFlight.Store(false)

	body, contentType, err := buildForm(entries, prompt)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindSubmission, "build form", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindSubmission, "new request", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	log.Info().Int("images", len(entries)).Str("url", c.url).Msg("pipeline: submitting screenshots")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindSubmission, "post", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindSubmission, "read response", err)
	}

	res := Result{Status: resp.StatusCode, Body: data}
	ev := log.Info()
	if !res.OK() {
		ev = log.Warn()
	}
	ev.Int("status", res.Status).
		Dur("elapsed", time.Since(start)).
		Str("body", logutil.Truncate(string(data), logPreviewLen)).
		Msg("pipeline: response received")
	return res, nil
}

// buildForm writes image_0..image_N with each entry's path, then the prompt.
func buildForm(entries []queue.Entry, prompt string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, e := range entries {
		if err := w.WriteField("image_"+strconv.Itoa(i), e.Path); err != nil {
			return nil, "", errors.Wrapf(err, "write image_%d", i)
		}
	}
	if err := w.WriteField(promptField, prompt); err != nil {
		return nil, "", errors.Wrap(err, "write prompt")
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close multipart writer")
	}
	return &buf, w.FormDataContentType(), nil
}
