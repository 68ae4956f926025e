package tooltip

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Margin is added to the measured content height while visible.
const Margin = 10

// State is the tooltip visibility and the height last reported for it.
type State struct {
	Visible bool
	Height  int
}

// Reporter receives every size change.
type Reporter interface {
	ReportSize(visible bool, height int)
}

// ReporterFunc adapts a func to Reporter.
type ReporterFunc func(visible bool, height int)

func (f ReporterFunc) ReportSize(visible bool, height int) { f(visible, height) }

// Measurer returns the rendered tooltip content height.
type Measurer interface {
	ContentHeight() (int, error)
}

// MeasurerFunc adapts a func to Measurer.
type MeasurerFunc func() (int, error)

func (f MeasurerFunc) ContentHeight() (int, error) { return f() }

// Negotiator shows and hides the shortcut tooltip and tells the host
// window how much room it needs.
type Negotiator struct {
	reporter Reporter
	measurer Measurer

	mu       sync.Mutex
	state    State
	reported bool
}

func NewNegotiator(reporter Reporter, measurer Measurer) *Negotiator {
	return &Negotiator{reporter: reporter, measurer: measurer}
}

// PointerEnter is called when the pointer enters the trigger or the tooltip.
func (n *Negotiator) PointerEnter() { n.update(true) }

// PointerLeave is called when the pointer leaves the trigger or the tooltip.
func (n *Negotiator) PointerLeave() { n.update(false) }

// Resized re-measures while visible.
func (n *Negotiator) Resized() {
	n.mu.Lock()
	visible := n.state.Visible
	n.mu.Unlock()
	if visible {
		n.update(true)
	}
}

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Negotiator) update(visible bool) {
	height := 0
	if visible {
		height = n.measure()
	}

	n.mu.Lock()
	next := State{Visible: visible, Height: height}
	if n.reported && next == n.state {
		n.mu.Unlock()
		return
	}
	n.state = next
	n.reported = true
	n.mu.Unlock()

	if n.reporter != nil {
		n.reporter.ReportSize(next.Visible, next.Height)
	}
}

func (n *Negotiator) measure() int {
	if n.measurer == nil {
		return 0
	}
	h, err := n.measurer.ContentHeight()
	if err != nil {
		log.Debug().Err(err).Msg("tooltip: measure failed, reporting 0")
		return 0
	}
	if h < 0 {
		return 0
	}
	return h + Margin
}
