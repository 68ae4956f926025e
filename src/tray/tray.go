package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog/log"
)

// Config wires tray menu items to host actions.
type Config struct {
	Title     string
	Tooltip   string
	Port      int
	OnCapture func()
	OnProcess func()
	OnToggle  func()
	OnClear   func()
	OnExit    func()
}

var (
	mu          sync.Mutex
	baseTooltip string
)

// Run blocks running the system tray until Quit is called.
func Run(cfg Config) {
	systray.Run(func() { onReady(cfg) }, func() {
		if cfg.OnExit != nil {
			cfg.OnExit()
		}
	})
}

// Quit removes the tray icon and makes Run return.
func Quit() { systray.Quit() }

func onReady(cfg Config) {
	systray.SetIcon(Icon())
	systray.SetTitle(cfg.Title)
	setBaseTooltip(cfg.Tooltip)
	systray.SetTooltip(cfg.Tooltip)

	mCapture := systray.AddMenuItem("Take Screenshot", "Capture the screen and queue it")
	mProcess := systray.AddMenuItem("Process Screenshots", "Send the queued screenshots for analysis")
	mToggle := systray.AddMenuItem("Show/Hide Window", "Toggle the queue window")
	mClear := systray.AddMenuItem("Clear Screenshots", "Delete every stored screenshot")
	systray.AddSeparator()
	mAbout := systray.AddMenuItem(fmt.Sprintf("Listening on 127.0.0.1:%d", cfg.Port), "")
	mAbout.Disable()
	mQuit := systray.AddMenuItem("Quit", "Quit the screen host")

	go func() {
		for {
			select {
			case <-mCapture.ClickedCh:
				invoke("capture", cfg.OnCapture)
			case <-mProcess.ClickedCh:
				invoke("process", cfg.OnProcess)
			case <-mToggle.ClickedCh:
				invoke("toggle", cfg.OnToggle)
			case <-mClear.ClickedCh:
				invoke("clear", cfg.OnClear)
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
	log.Info().Msg("tray: ready")
}

func invoke(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("item", name).Msg("tray: menu handler panicked")
		}
	}()
	fn()
}

func setBaseTooltip(s string) {
	mu.Lock()
	baseTooltip = s
	mu.Unlock()
}

// UpdateTooltip shows status next to the base tooltip; an empty status
// restores it.
func UpdateTooltip(status string) {
	mu.Lock()
	text := baseTooltip
	mu.Unlock()
	if status != "" {
		text = text + " - " + status
	}
	systray.SetTooltip(text)
}
