package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"screen-queue/src/messages"
)

const (
	filePrefix     = "screenshot-"
	fileExt        = ".png"
	thumbnailWidth = 320
)

// Screen captures the entire virtual screen across all active displays.
func Screen() (*image.RGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, errors.New("no active displays found")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	img, err := screenshot.CaptureRect(union)
	if err != nil {
		return nil, errors.Wrap(err, "capture virtual screen")
	}
	return img, nil
}

// Store keeps captures as PNG files in one directory and hands out
// thumbnail previews. It implements hostipc.Backend.
type Store struct {
	dir     string
	capture func() (*image.RGBA, error)
	now     func() time.Time

	mu sync.Mutex
}

// Option customizes a Store.
type Option func(*Store)

// WithCaptureFunc replaces the screen grabber.
func WithCaptureFunc(fn func() (*image.RGBA, error)) Option {
	return func(s *Store) { s.capture = fn }
}

// WithClock replaces time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("capture: empty screenshot directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create screenshot directory %s", dir)
	}
	s := &Store{dir: dir, capture: Screen, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// Capture grabs the screen, writes it to disk and returns its handle.
func (s *Store) Capture(ctx context.Context) (messages.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return messages.Screenshot{}, err
	}
	img, err := s.capture()
	if err != nil {
		return messages.Screenshot{}, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return messages.Screenshot{}, errors.Wrap(err, "encode png")
	}

	s.mu.Lock()
	path := s.nextPath()
	err = os.WriteFile(path, buf.Bytes(), 0o644)
	s.mu.Unlock()
	if err != nil {
		return messages.Screenshot{}, errors.Wrapf(err, "write %s", path)
	}

	preview, err := thumbnailDataURL(img)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("capture: thumbnail failed")
	}
	log.Info().Str("path", path).Int("bytes", buf.Len()).Msg("capture: screenshot saved")
	return messages.Screenshot{Path: path, Preview: preview}, nil
}

// nextPath returns a unique timestamped file name; callers hold s.mu.
// Every name carries a zero-padded sequence so captures sharing a
// millisecond still sort in capture order.
func (s *Store) nextPath() string {
	stamp := s.now().UTC().Format("20060102-150405.000")
	stamp = strings.ReplaceAll(stamp, ".", "-")
	for i := 0; ; i++ {
		path := filepath.Join(s.dir, fmt.Sprintf("%s%s-%03d%s", filePrefix, stamp, i, fileExt))
		if !fileExists(path) {
			return path
		}
	}
}

// List returns stored captures oldest first.
func (s *Store) List(ctx context.Context) ([]messages.Screenshot, error) {
	paths, err := s.paths()
	if err != nil {
		return nil, err
	}
	out := make([]messages.Screenshot, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		preview, err := fileThumbnail(p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("capture: skipping unreadable screenshot")
			continue
		}
		out = append(out, messages.Screenshot{Path: p, Preview: preview})
	}
	return out, nil
}

// Delete removes one capture. Paths outside the store are refused.
func (s *Store) Delete(ctx context.Context, path string) error {
	if !s.owns(path) {
		return errors.Errorf("path %s is not in the screenshot store", path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		return errors.Wrapf(err, "delete %s", path)
	}
	log.Info().Str("path", path).Msg("capture: screenshot deleted")
	return nil
}

// Clear removes every stored capture.
func (s *Store) Clear(ctx context.Context) error {
	paths, err := s.paths()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrapf(err, "delete %s", p)
		}
	}
	log.Info().Int("count", len(paths)).Msg("capture: store cleared")
	return firstErr
}

func (s *Store) paths() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.dir)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	// Timestamped names sort chronologically.
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == dir && strings.HasPrefix(filepath.Base(abs), filePrefix)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileThumbnail(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open")
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return "", errors.Wrap(err, "decode png")
	}
	return thumbnailDataURL(img)
}

// thumbnailDataURL scales img down to thumbnailWidth and returns it as a
// data:image/png URL.
func thumbnailDataURL(img image.Image) (string, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return "", errors.New("empty image")
	}
	w, h := b.Dx(), b.Dy()
	if w > thumbnailWidth {
		h = h * thumbnailWidth / w
		if h < 1 {
			h = 1
		}
		w = thumbnailWidth
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return "", errors.Wrap(err, "encode thumbnail")
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
