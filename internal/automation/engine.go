//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"vidaa-home/internal/bridge"
)

// Controller is the bridge surface scripts drive. *bridge.Bridge implements it.
type Controller interface {
	Command(name string, payload []byte) error
	Wake(name string) error
	Devices() []bridge.DeviceInfo
	State(name string) map[string]any
	Events() *bridge.EventBus
}

// luaEventHandler is a registered Lua callback for a specific event pattern.
type luaEventHandler struct {
	eventType string
	device    string // filter: only match this TV (empty = any)
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// Engine manages Lua VMs and dispatches bridge events to scripts.
type Engine struct {
	ctrl    Controller
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates a new automation engine.
func NewEngine(ctrl Controller, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		ctrl:    ctrl,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to bridge events and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.ctrl.Events().OnAll(func(event bridge.Event) {
		e.dispatchEvent(event)
	})

	started := e.loadScripts()
	e.logger.Info("automation engine started", "scripts", started)
}

// Stop cancels all VMs and unsubscribes from the event bus.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}

	if e.unsub != nil {
		e.unsub()
	}

	e.logger.Info("automation engine stopped")
}

// Reload stops every running script and starts the current on-disk set.
// The daemon calls this on SIGHUP.
func (e *Engine) Reload() {
	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()

	started := e.loadScripts()
	e.logger.Info("scripts reloaded", "scripts", started)
}

func (e *Engine) loadScripts() int {
	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return 0
	}

	started := 0
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
			continue
		}
		started++
	}
	return started
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())

	L := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Sandbox: remove dangerous libs and functions
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	registerTVModule(L, vm, e)
	registerSystemModule(L, e)

	// Execute the script to register handlers
	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	e.vms[s.ID] = vm
	e.mu.Unlock()

	// Command loop goroutine, exits when the context is cancelled.
	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent routes a bridge event to all matching Lua handlers.
func (e *Engine) dispatchEvent(event bridge.Event) {
	e.mu.Lock()
	vmsCopy := make(map[string]*scriptVM, len(e.vms))
	for k, v := range e.vms {
		vmsCopy[k] = v
	}
	e.mu.Unlock()

	for _, vm := range vmsCopy {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			if vm.ctx.Err() != nil {
				break // VM stopped
			}

			fn := h.fn
			// Hand off to the VM's command channel for serialized Lua access.
			select {
			case vm.commands <- func(L *lua.LState) {
				e.callHandler(L, fn, event)
			}:
			default:
				e.logger.Warn("script command channel full, dropping event")
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event bridge.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	if h.device != "" && h.device != event.Device {
		return false
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event bridge.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	// Build event table
	eventTable := L.NewTable()
	eventTable.RawSetString("type", lua.LString(event.Type))
	if event.Device != "" {
		eventTable.RawSetString("device", lua.LString(event.Device))
	}

	// State events carry a document; scalar payloads land under "value".
	switch data := event.Data.(type) {
	case map[string]interface{}:
		for k, v := range data {
			eventTable.RawSetString(k, goToLua(L, v))
		}
	case nil:
	default:
		eventTable.RawSetString("value", goToLua(L, data))
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, eventTable); err != nil {
		e.logger.Error("lua handler error", "err", err)
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
