package gui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
)

// hoverArea wraps content and reports pointer enter and leave.
type hoverArea struct {
	widget.BaseWidget
	content fyne.CanvasObject
	onIn    func()
	onOut   func()
	inside  bool
}

var _ desktop.Hoverable = (*hoverArea)(nil)

func newHoverArea(content fyne.CanvasObject, onIn, onOut func()) *hoverArea {
	h := &hoverArea{content: content, onIn: onIn, onOut: onOut}
	h.ExtendBaseWidget(h)
	return h
}

func (h *hoverArea) MouseIn(_ *desktop.MouseEvent) {
	h.inside = true
	if h.onIn != nil {
		h.onIn()
	}
}

func (h *hoverArea) MouseMoved(_ *desktop.MouseEvent) {
	if !h.inside {
		h.MouseIn(nil)
	}
}

func (h *hoverArea) MouseOut() {
	h.inside = false
	if h.onOut != nil {
		h.onOut()
	}
}

func (h *hoverArea) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(h.content)
}
