package gui

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog/log"

	"screen-queue/src/notify"
	"screen-queue/src/queue"
	"screen-queue/src/tooltip"
)

const (
	windowWidth      = 420
	baseHeight       = 96
	rowHeight        = 56
	thumbSize        = 48
	reportTimeout    = 2 * time.Second
	emptyQueueHint   = "Take a screenshot first to generate a solution."
	processingBanner = "Processing screenshots..."
)

// Actions is what the overlay can ask of the event loop.
type Actions interface {
	DeleteEntry(id uint64) bool
	ClearStore() bool
	ToggleWindow() bool
	TriggerCapture() bool
	TriggerProcess() bool
}

// SizeReporter forwards tooltip size changes to the host.
type SizeReporter interface {
	ReportOverlaySize(ctx context.Context, visible bool, height int) error
}

// Options configures the overlay.
type Options struct {
	Actions       Actions
	Host          SizeReporter
	CaptureChord  string
	ProcessChord  string
	QueueCapacity int
}

// Overlay is the small always-available window listing queued captures.
type Overlay struct {
	app  fyne.App
	win  fyne.Window
	opts Options

	negotiator *tooltip.Negotiator

	banner      *widget.Label
	lastPath    *widget.Label
	status      *widget.Label
	list        *fyne.Container
	tipPanel    *fyne.Container
	tipContent  *fyne.Container
	processBtn  *widget.Button
	processHint *widget.Label

	entries []queue.Entry
	visible bool
	tipRoom float32
}

func NewOverlay(a fyne.App, opts Options) *Overlay {
	o := &Overlay{app: a, opts: opts, visible: true}
	o.win = a.NewWindow("Screen Queue")
	o.negotiator = tooltip.NewNegotiator(tooltip.ReporterFunc(o.applySize), tooltip.MeasurerFunc(o.measureTooltip))
	o.win.SetContent(o.build())
	o.win.Resize(fyne.NewSize(windowWidth, baseHeight))
	o.win.SetCloseIntercept(func() { o.setVisible(false) })
	o.render(nil)
	return o
}

func (o *Overlay) Window() fyne.Window { return o.win }

func (o *Overlay) build() fyne.CanvasObject {
	o.banner = widget.NewLabelWithStyle(processingBanner, fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	o.banner.Hide()
	o.lastPath = widget.NewLabel("")
	o.lastPath.Truncation = fyne.TextTruncateEllipsis
	o.status = widget.NewLabel("")
	o.status.Truncation = fyne.TextTruncateEllipsis
	o.list = container.NewVBox()

	o.processBtn = widget.NewButton("Solve", func() { o.opts.Actions.TriggerProcess() })
	o.processHint = widget.NewLabelWithStyle(emptyQueueHint, fyne.TextAlignLeading, fyne.TextStyle{Italic: true})
	o.tipContent = container.NewVBox(
		shortcutRow("Show/Hide", "", widget.NewButton("Toggle", func() { o.opts.Actions.ToggleWindow() })),
		shortcutRow("Take Screenshot", o.opts.CaptureChord, widget.NewButton("Capture", func() { o.opts.Actions.TriggerCapture() })),
		shortcutRow("Solve Problem", o.opts.ProcessChord, o.processBtn),
		o.processHint,
		shortcutRow("Clear Screenshots", "", widget.NewButton("Clear", func() { o.opts.Actions.ClearStore() })),
	)
	o.tipPanel = container.NewPadded(o.tipContent)
	o.tipPanel.Hide()

	trigger := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {})
	hover := newHoverArea(
		container.NewVBox(container.NewHBox(layout.NewSpacer(), trigger), o.tipPanel),
		o.negotiator.PointerEnter,
		o.negotiator.PointerLeave,
	)

	header := container.NewVBox(o.banner, o.lastPath, o.status)
	return container.NewBorder(container.NewBorder(nil, nil, nil, hover, header), nil, nil, nil, container.NewVScroll(o.list))
}

func shortcutRow(label, chord string, action fyne.CanvasObject) fyne.CanvasObject {
	text := label
	if chord != "" {
		text = fmt.Sprintf("%s  (%s)", label, chord)
	}
	return container.NewHBox(widget.NewLabel(text), layout.NewSpacer(), action)
}

// Bind re-renders the overlay on every queue change.
func (o *Overlay) Bind(q *queue.Manager) func() {
	o.Render(q.Snapshot())
	return q.Subscribe(o.Render)
}

// Render shows entries; safe to call from any goroutine.
func (o *Overlay) Render(entries []queue.Entry) {
	fyne.Do(func() { o.render(entries) })
}

func (o *Overlay) render(entries []queue.Entry) {
	o.entries = entries
	o.list.RemoveAll()
	for _, e := range entries {
		o.list.Add(o.entryRow(e))
	}
	o.list.Refresh()

	if len(entries) == 0 {
		o.lastPath.SetText("No screenshots yet")
		o.processBtn.Disable()
		o.processHint.Show()
	} else {
		o.lastPath.SetText("Last: " + entries[len(entries)-1].Path)
		o.processBtn.Enable()
		o.processHint.Hide()
	}
	o.negotiator.Resized()
	o.resize()
}

func (o *Overlay) entryRow(e queue.Entry) fyne.CanvasObject {
	var thumb fyne.CanvasObject = widget.NewIcon(theme.FileImageIcon())
	if res := previewResource(e); res != nil {
		img := canvas.NewImageFromResource(res)
		img.FillMode = canvas.ImageFillContain
		img.SetMinSize(fyne.NewSize(thumbSize, thumbSize))
		thumb = img
	}
	name := widget.NewLabel(filepath.Base(e.Path))
	name.Truncation = fyne.TextTruncateEllipsis
	id := e.ID
	del := widget.NewButtonWithIcon("", theme.DeleteIcon(), func() { o.opts.Actions.DeleteEntry(id) })
	return container.NewBorder(nil, nil, thumb, del, name)
}

// previewResource decodes a data:image/...;base64 preview.
func previewResource(e queue.Entry) fyne.Resource {
	const marker = ";base64,"
	i := strings.Index(e.Preview, marker)
	if !strings.HasPrefix(e.Preview, "data:image/") || i < 0 {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(e.Preview[i+len(marker):])
	if err != nil || len(data) == 0 {
		return nil
	}
	return fyne.NewStaticResource(fmt.Sprintf("preview-%d.png", e.ID), data)
}

// SetProcessing shows or hides the processing banner.
func (o *Overlay) SetProcessing(on bool) {
	fyne.Do(func() { o.setProcessing(on) })
}

func (o *Overlay) setProcessing(on bool) {
	if on {
		o.banner.Show()
	} else {
		o.banner.Hide()
	}
	o.resize()
}

// Notify implements notify.Notifier with a system notification and the
// status line.
func (o *Overlay) Notify(n notify.Notice) {
	o.app.SendNotification(fyne.NewNotification(n.Title, n.Message))
	fyne.Do(func() { o.status.SetText(statusText(n)) })
}

func statusText(n notify.Notice) string {
	if n.Message == "" || n.Level == notify.LevelInfo {
		return n.Title
	}
	return n.Title + ": " + n.Message
}

// Toggle shows a hidden window and hides a visible one.
func (o *Overlay) Toggle() {
	fyne.Do(func() { o.setVisible(!o.visible) })
}

func (o *Overlay) setVisible(v bool) {
	o.visible = v
	if v {
		o.win.Show()
	} else {
		o.win.Hide()
	}
}

func (o *Overlay) measureTooltip() (int, error) {
	return int(o.tipContent.MinSize().Height), nil
}

// applySize is the tooltip Reporter: it resizes the window for the tooltip
// and forwards the size to the host.
func (o *Overlay) applySize(visible bool, height int) {
	if visible {
		o.tipPanel.Show()
		o.tipRoom = float32(height)
	} else {
		o.tipPanel.Hide()
		o.tipRoom = 0
	}
	o.resize()

	if o.opts.Host == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := o.opts.Host.ReportOverlaySize(ctx, visible, height); err != nil {
			log.Debug().Err(err).Msg("gui: overlay size not forwarded")
		}
	}()
}

func (o *Overlay) resize() {
	rows := len(o.entries)
	if o.opts.QueueCapacity > 0 && rows > o.opts.QueueCapacity {
		rows = o.opts.QueueCapacity
	}
	h := float32(baseHeight+rows*rowHeight) + o.tipRoom
	o.win.Resize(fyne.NewSize(windowWidth, h))
}

// Show displays the window.
func (o *Overlay) Show() { o.setVisible(true) }
