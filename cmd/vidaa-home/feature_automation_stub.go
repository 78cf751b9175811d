//go:build no_automation

package main

import (
	"log/slog"

	"vidaa-home/internal/bridge"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func (a *autoStopper) Reload() {}

func initAutomation(_ *bridge.Bridge, _ *Config, _ *slog.Logger) *autoStopper {
	return &autoStopper{}
}
