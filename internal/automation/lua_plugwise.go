//go:build !no_automation

package automation

import (
	lua "github.com/yuin/gopher-lua"
)

// registerPlugwiseModule registers the `plugwise` global table in a Lua state.
func registerPlugwiseModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return plugwiseOn(L, vm)
	}))

	mod.RawSetString("switch_on", L.NewFunction(func(L *lua.LState) int {
		return plugwiseSwitchRelay(L, e, true)
	}))

	mod.RawSetString("switch_off", L.NewFunction(func(L *lua.LState) int {
		return plugwiseSwitchRelay(L, e, false)
	}))

	mod.RawSetString("join", L.NewFunction(func(L *lua.LState) int {
		return plugwiseJoin(L, e)
	}))

	mod.RawSetString("unjoin", L.NewFunction(func(L *lua.LState) int {
		return plugwiseUnjoin(L, e)
	}))

	mod.RawSetString("get_property", L.NewFunction(func(L *lua.LState) int {
		return plugwiseGetProperty(L, e)
	}))

	mod.RawSetString("nodes", L.NewFunction(func(L *lua.LState) int {
		return plugwiseNodes(L, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return plugwiseLog(L, e)
	}))

	L.SetGlobal("plugwise", mod)
}

const maxHandlersPerScript = 100

// plugwise.on(type, filter, callback)
func plugwiseOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("mac"); v != lua.LNil {
		h.mac = v.String()
	}
	if v := filterTable.RawGetString("property"); v != lua.LNil {
		h.property = v.String()
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

// plugwise.switch_on/switch_off(mac)
func plugwiseSwitchRelay(L *lua.LState, e *Engine, on bool) int {
	mac := L.CheckString(1)
	if err := e.hub.Registry().SwitchRelay(mac, on); err != nil {
		e.logger.Warn("relay command from script failed", "mac", mac, "err", err)
	}
	return 0
}

// plugwise.join(mac)
func plugwiseJoin(L *lua.LState, e *Engine) int {
	mac := L.CheckString(1)
	if err := e.hub.Registry().AddNode(mac); err != nil {
		e.logger.Warn("join from script failed", "mac", mac, "err", err)
	}
	return 0
}

// plugwise.unjoin(mac)
func plugwiseUnjoin(L *lua.LState, e *Engine) int {
	mac := L.CheckString(1)
	if err := e.hub.Registry().RemoveNode(mac); err != nil {
		e.logger.Warn("unjoin from script failed", "mac", mac, "err", err)
	}
	return 0
}

// plugwise.get_property(mac, key) -> value or nil
func plugwiseGetProperty(L *lua.LState, e *Engine) int {
	mac := L.CheckString(1)
	key := L.CheckString(2)

	node, err := e.hub.Store().GetNode(mac)
	if err != nil || node.Properties == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, ok := node.Properties[key]
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, v))
	return 1
}

// plugwise.nodes() -> { mac, ... }
func plugwiseNodes(L *lua.LState, e *Engine) int {
	nodes, err := e.hub.Store().ListNodes()
	if err != nil {
		L.Push(L.NewTable())
		return 1
	}
	t := L.NewTable()
	for i, node := range nodes {
		t.RawSetInt(i+1, lua.LString(node.MAC))
	}
	L.Push(t)
	return 1
}

// plugwise.log(msg)
func plugwiseLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}
