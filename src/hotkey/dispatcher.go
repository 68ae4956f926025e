package hotkey

import (
	"context"

	gohook "github.com/robotn/gohook"
	"github.com/rs/zerolog/log"
)

// Command is what a chord asks the application to do.
type Command string

const (
	CommandCapture Command = "capture"
	CommandProcess Command = "process"
)

// Source delivers raw keyboard events.
type Source interface {
	Start() chan gohook.Event
	End()
}

type gohookSource struct{}

// SystemSource is the global keyboard hook.
func SystemSource() Source { return gohookSource{} }

func (gohookSource) Start() chan gohook.Event { return gohook.Start() }
func (gohookSource) End()                     { gohook.End() }

// Binding ties a chord to a command.
type Binding struct {
	Chord   Chord
	Command Command
}

// Dispatcher turns key events into commands. It never blocks on the
// consumer: if out is full the chord is dropped.
type Dispatcher struct {
	source   Source
	bindings []Binding
	out      chan<- Command
}

func NewDispatcher(source Source, out chan<- Command, bindings ...Binding) *Dispatcher {
	return &Dispatcher{source: source, bindings: bindings, out: out}
}

// Bindings parses the configured chords for capture and processing.
func Bindings(captureHotkey, processHotkey string) ([]Binding, error) {
	capture, err := ParseChord(captureHotkey)
	if err != nil {
		return nil, err
	}
	process, err := ParseChord(processHotkey)
	if err != nil {
		return nil, err
	}
	return []Binding{
		{Chord: capture, Command: CommandCapture},
		{Chord: process, Command: CommandProcess},
	}, nil
}

// Run consumes events until ctx is done or the source closes.
func (d *Dispatcher) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("hotkey: dispatcher panicked")
		}
	}()

	events := d.source.Start()
	defer d.source.End()
	if events == nil {
		log.Error().Msg("hotkey: keyboard source returned nil channel")
		return
	}
	for _, b := range d.bindings {
		log.Info().Str("chord", b.Chord.String()).Str("command", string(b.Command)).Msg("hotkey: listening")
	}

	state := newKeyState()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				log.Info().Msg("hotkey: event channel closed")
				return
			}
			d.handle(state, ev)
		}
	}
}

func (d *Dispatcher) handle(state *keyState, ev gohook.Event) {
	switch ev.Kind {
	case gohook.KeyDown, gohook.KeyHold:
		if !state.press(ev.Keycode) {
			return
		}
		held := state.heldModifiers()
		for _, b := range d.bindings {
			if b.Chord.isKey(ev.Keycode) && b.Chord.matches(held) {
				d.fire(b)
				return
			}
		}
	case gohook.KeyUp:
		state.release(ev.Keycode)
	}
}

func (d *Dispatcher) fire(b Binding) {
	select {
	case d.out <- b.Command:
		log.Debug().Str("chord", b.Chord.String()).Msg("hotkey: chord detected")
	default:
		log.Warn().Str("chord", b.Chord.String()).Msg("hotkey: busy, chord dropped")
	}
}
