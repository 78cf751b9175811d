//go:build !no_automation

package automation

import (
	"encoding/json"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerTVModule registers the `tv` global table in a Lua state.
func registerTVModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return tvOn(L, vm)
	}))

	mod.RawSetString("send_key", L.NewFunction(func(L *lua.LState) int {
		return tvSendKey(L, e)
	}))

	mod.RawSetString("power_on", L.NewFunction(func(L *lua.LState) int {
		return tvPowerOn(L, e)
	}))

	mod.RawSetString("power_off", L.NewFunction(func(L *lua.LState) int {
		return tvPowerOff(L, e)
	}))

	mod.RawSetString("set_volume", L.NewFunction(func(L *lua.LState) int {
		return tvSetVolume(L, e)
	}))

	mod.RawSetString("set_source", L.NewFunction(func(L *lua.LState) int {
		return tvSetSource(L, e)
	}))

	mod.RawSetString("launch_app", L.NewFunction(func(L *lua.LState) int {
		return tvLaunchApp(L, e)
	}))

	mod.RawSetString("wake", L.NewFunction(func(L *lua.LState) int {
		return tvWake(L, e)
	}))

	mod.RawSetString("state", L.NewFunction(func(L *lua.LState) int {
		return tvState(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return tvAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return tvLog(L, e)
	}))

	mod.RawSetString("devices", L.NewFunction(func(L *lua.LState) int {
		return tvDevices(L, e)
	}))

	L.SetGlobal("tv", mod)
}

const maxHandlersPerScript = 100

// tv.on(type, filter, callback)
func tvOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("device"); v != lua.LNil {
		h.device = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// tv.send_key(device, key) — key names accept both KEY_UP and the short
// form "up".
func tvSendKey(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	key := L.CheckString(2)
	e.command(name, map[string]any{"key": key})
	return 0
}

// tv.power_on(device) — also wakes the panel over the network when the
// session is down.
func tvPowerOn(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	e.command(name, map[string]any{"power": "ON"})
	return 0
}

// tv.power_off(device)
func tvPowerOff(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	e.command(name, map[string]any{"power": "OFF"})
	return 0
}

// tv.set_volume(device, level)
func tvSetVolume(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	level := L.CheckInt(2)
	e.command(name, map[string]any{"volume": level})
	return 0
}

// tv.set_source(device, source)
func tvSetSource(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	source := L.CheckString(2)
	e.command(name, map[string]any{"source": source})
	return 0
}

// tv.launch_app(device, app)
func tvLaunchApp(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	app := L.CheckString(2)
	e.command(name, map[string]any{"app": app})
	return 0
}

// tv.wake(device) — send a Wake-on-LAN burst without queueing a power command.
func tvWake(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	if err := e.ctrl.Wake(name); err != nil {
		e.logger.Warn("script wake failed", "device", name, "err", err)
	}
	return 0
}

// tv.state(device) — returns the last known state table, or nil.
func tvState(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	state := e.ctrl.State(name)
	if state == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, state))
	return 1
}

// tv.after(seconds, callback) — delayed execution
func tvAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		// Send callback execution to the VM's command channel
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// tv.log(msg)
func tvLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}

// tv.devices() — returns a table of all configured TVs
func tvDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, d := range e.ctrl.Devices() {
		t := L.NewTable()
		t.RawSetString("name", lua.LString(d.Name))
		t.RawSetString("host", lua.LString(d.Host))
		t.RawSetString("connected", lua.LBool(d.Connected))
		if d.MAC != "" {
			t.RawSetString("mac", lua.LString(d.MAC))
		}
		tbl.RawSetInt(i+1, t)
	}
	L.Push(tbl)
	return 1
}

// command marshals and queues a bridge command on behalf of a script.
func (e *Engine) command(name string, cmd map[string]any) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		e.logger.Error("marshal script command", "err", err)
		return
	}
	if err := e.ctrl.Command(name, payload); err != nil {
		e.logger.Warn("script command failed", "device", name, "err", err)
	}
}
