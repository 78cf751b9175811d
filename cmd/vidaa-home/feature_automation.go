//go:build !no_automation

package main

import (
	"log/slog"

	"vidaa-home/internal/automation"
	"vidaa-home/internal/bridge"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func (a *autoStopper) Reload() {
	if a.engine != nil {
		a.engine.Reload()
	}
}

func initAutomation(br *bridge.Bridge, cfg *Config, logger *slog.Logger) *autoStopper {
	scriptMgr, err := automation.NewManager(cfg.Options.ScriptsDir)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}
	}

	engine := automation.NewEngine(br, scriptMgr, logger)
	engine.Start()
	return &autoStopper{engine: engine}
}
