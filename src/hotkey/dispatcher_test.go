package hotkey

import (
	"context"
	"testing"
	"time"

	gohook "github.com/robotn/gohook"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	events chan gohook.Event
	ended  chan struct{}
}

func newChanSource() *chanSource {
	return &chanSource{events: make(chan gohook.Event, 32), ended: make(chan struct{})}
}

func (s *chanSource) Start() chan gohook.Event { return s.events }
func (s *chanSource) End()                     { close(s.ended) }

// Key codes as gohook reports them in Event.Keycode on every platform.
var (
	kcLCtrl  = gohook.Keycode["ctrl"]
	kcLShift = gohook.Keycode["shift"]
	kcRShift = gohook.Keycode["rshift"]
	kcLAlt   = gohook.Keycode["alt"]
	kcLCmd   = gohook.Keycode["cmd"]
	kcH      = gohook.Keycode["h"]
	kcJ      = gohook.Keycode["j"]
	kcK      = gohook.Keycode["k"]
)

func down(code uint16) gohook.Event { return gohook.Event{Kind: gohook.KeyDown, Keycode: code} }
func up(code uint16) gohook.Event   { return gohook.Event{Kind: gohook.KeyUp, Keycode: code} }

// runDispatcher feeds events through a dispatcher bound to Ctrl+Shift+H and
// Ctrl+Shift+J and returns the commands it emitted.
func runDispatcher(t *testing.T, events ...gohook.Event) []Command {
	t.Helper()
	capture, err := ParseChord("Ctrl+Shift+H")
	require.NoError(t, err)
	process, err := ParseChord("Ctrl+Shift+J")
	require.NoError(t, err)

	src := newChanSource()
	out := make(chan Command, 16)
	d := NewDispatcher(src, out,
		Binding{Chord: capture, Command: CommandCapture},
		Binding{Chord: process, Command: CommandProcess},
	)

	for _, ev := range events {
		src.events <- ev
	}
	close(src.events)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	<-src.ended

	close(out)
	var got []Command
	for c := range out {
		got = append(got, c)
	}
	return got
}

func TestDispatcherChords(t *testing.T) {
	tests := []struct {
		name   string
		events []gohook.Event
		want   []Command
	}{
		{
			name:   "capture",
			events: []gohook.Event{down(kcLCtrl), down(kcLShift), down(kcH)},
			want:   []Command{CommandCapture},
		},
		{
			name:   "process with right shift",
			events: []gohook.Event{down(kcLCtrl), down(kcRShift), down(kcJ)},
			want:   []Command{CommandProcess},
		},
		{
			name:   "shift+h alone fires nothing",
			events: []gohook.Event{down(kcLShift), down(kcH)},
		},
		{
			name:   "ctrl+h alone fires nothing",
			events: []gohook.Event{down(kcLCtrl), down(kcH)},
		},
		{
			name:   "different key fires nothing",
			events: []gohook.Event{down(kcLCtrl), down(kcLShift), down(kcK)},
		},
		{
			name:   "extra modifier fires nothing",
			events: []gohook.Event{down(kcLCtrl), down(kcLAlt), down(kcLShift), down(kcH)},
		},
		{
			name:   "released modifier fires nothing",
			events: []gohook.Event{down(kcLCtrl), down(kcLShift), up(kcLShift), down(kcH)},
		},
		{
			name: "auto-repeat fires once",
			events: []gohook.Event{
				down(kcLCtrl), down(kcLShift), down(kcH),
				{Kind: gohook.KeyHold, Keycode: kcH}, down(kcH),
			},
			want: []Command{CommandCapture},
		},
		{
			name: "press release press fires twice",
			events: []gohook.Event{
				down(kcLCtrl), down(kcLShift), down(kcH), up(kcH), down(kcH),
			},
			want: []Command{CommandCapture, CommandCapture},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, runDispatcher(t, tt.events...))
		})
	}
}

func TestDispatcherMatchesCmdChords(t *testing.T) {
	capture, err := ParseChord("Cmd+Shift+H")
	require.NoError(t, err)

	src := newChanSource()
	out := make(chan Command, 4)
	d := NewDispatcher(src, out, Binding{Chord: capture, Command: CommandCapture})

	// The rawcode is platform specific and must not take part in matching.
	src.events <- gohook.Event{Kind: gohook.KeyDown, Keycode: kcLCmd, Rawcode: 55}
	src.events <- gohook.Event{Kind: gohook.KeyDown, Keycode: kcLShift, Rawcode: 56}
	src.events <- gohook.Event{Kind: gohook.KeyDown, Keycode: kcH, Rawcode: 4}
	src.events <- gohook.Event{Kind: gohook.KeyUp, Keycode: kcH, Rawcode: 4}
	src.events <- gohook.Event{Kind: gohook.KeyUp, Keycode: kcLCmd, Rawcode: 55}
	// Ctrl in place of Cmd fires nothing.
	src.events <- down(kcLCtrl)
	src.events <- down(kcH)
	close(src.events)

	d.Run(context.Background())
	close(out)
	var got []Command
	for c := range out {
		got = append(got, c)
	}
	require.Equal(t, []Command{CommandCapture}, got)
}

func TestDispatcherDropsWhenConsumerBusy(t *testing.T) {
	chord, err := ParseChord("Ctrl+Shift+H")
	require.NoError(t, err)
	src := newChanSource()
	out := make(chan Command) // unbuffered, nobody reading
	d := NewDispatcher(src, out, Binding{Chord: chord, Command: CommandCapture})

	src.events <- down(kcLCtrl)
	src.events <- down(kcLShift)
	src.events <- down(kcH)
	close(src.events)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher blocked on a busy consumer")
	}
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	src := newChanSource()
	d := NewDispatcher(src, make(chan Command, 1))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher ignored cancellation")
	}
	<-src.ended
}

func TestBindings(t *testing.T) {
	b, err := Bindings("Primary+Shift+H", "Primary+Shift+J")
	require.NoError(t, err)
	require.Len(t, b, 2)
	require.Equal(t, CommandCapture, b[0].Command)
	require.Equal(t, CommandProcess, b[1].Command)

	_, err = Bindings("Primary+Shift", "Primary+Shift+J")
	require.Error(t, err)
}
