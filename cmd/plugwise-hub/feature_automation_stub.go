//go:build no_automation

package main

import (
	"log/slog"

	"plugwise-hub/internal/hub"
	"plugwise-hub/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *hub.Hub, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
