//go:build !windows

package main

import (
	"github.com/kbinani/screenshot"
	"github.com/rs/zerolog/log"
)

func enableDPIAwareness() {}

func logMonitorConfiguration() {
	n := screenshot.NumActiveDisplays()
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		log.Info().Int("display", i).Str("bounds", b.String()).Msg("monitor configuration")
	}
}
