// Package luahost loads plugin entry modules into sandboxed Lua states and
// drives their load/unload hooks. A Module is the opaque handle the plugin
// manager owns for an enabled plugin.
package luahost

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

const (
	// EntryFileName is the fixed entry-point file every loadable plugin
	// module must provide.
	EntryFileName = "init.lua"

	// loadHook and unloadHook are the optional global callbacks a module
	// may define.
	loadHook   = "on_load"
	unloadHook = "on_unload"

	// maxScriptSize caps the entry script to prevent memory exhaustion (1MB).
	maxScriptSize int64 = 1024 * 1024
)

// ErrModuleClosed indicates a call on an already-closed module.
var ErrModuleClosed = fmt.Errorf("module is closed")

// CredentialStore is the host-supplied store plugin code can query through
// the SDK bridge. Implementations decide scoping and secrecy.
type CredentialStore interface {
	// Credential returns the named credential for a plugin, if present.
	Credential(pluginID, name string) (string, bool)
}

// Options configures a module load.
type Options struct {
	// PluginID namespaces bridge calls (logging, credentials).
	PluginID string
	// Credentials backs the pipewise.credential SDK call. May be nil.
	Credentials CredentialStore
	// Log receives plugin-emitted log lines.
	Log zerolog.Logger
}

// Module is one loaded plugin entry script. It exclusively owns its Lua
// state; callers must treat the handle as opaque.
type Module struct {
	mu     sync.Mutex
	state  *lua.LState
	dir    string
	closed bool
}

// Open loads the entry script from dir into a fresh sandboxed Lua state.
// The script's top level runs immediately; hooks run via CallLoad/CallUnload.
func Open(dir string, opts Options) (*Module, error) {
	entry := filepath.Join(dir, EntryFileName)

	info, err := os.Stat(entry)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("entry module %s not found", EntryFileName)
	}
	if err != nil {
		return nil, fmt.Errorf("checking entry module: %w", err)
	}
	if info.Size() > maxScriptSize {
		return nil, fmt.Errorf("entry module size %d exceeds limit of %d bytes", info.Size(), maxScriptSize)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	installBridge(L, opts)

	m := &Module{state: L, dir: dir}
	if err := m.do(func() error { return L.DoFile(entry) }); err != nil {
		L.Close()
		return nil, fmt.Errorf("loading entry module: %w", err)
	}
	return m, nil
}

// Dir returns the directory the module was loaded from.
func (m *Module) Dir() string {
	return m.dir
}

// CallLoad invokes the module's on_load hook if it defines one.
func (m *Module) CallLoad() error {
	return m.callHook(loadHook)
}

// CallUnload invokes the module's on_unload hook if it defines one.
func (m *Module) CallUnload() error {
	return m.callHook(unloadHook)
}

// Close releases the underlying Lua state. Safe to call more than once.
func (m *Module) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.state.Close()
}

func (m *Module) callHook(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrModuleClosed
	}

	fn := m.state.GetGlobal(name)
	if fn == lua.LNil || fn.Type() != lua.LTFunction {
		return nil // hooks are optional
	}

	return m.do(func() error {
		return m.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
}

// do runs fn with panic recovery so misbehaving plugin code surfaces as an
// error rather than taking down the host.
func (m *Module) do(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// openSafeLibraries opens only side-effect-free Lua standard libraries.
// io, os, debug, and package stay closed: plugin code reaches the host
// exclusively through the bridge.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// installBridge exposes the pipewise SDK table to the module.
func installBridge(L *lua.LState, opts Options) {
	log := opts.Log.With().Str("plugin", opts.PluginID).Logger()

	bridge := L.NewTable()
	L.SetField(bridge, "log", L.NewFunction(func(L *lua.LState) int {
		log.Info().Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(bridge, "credential", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if opts.Credentials == nil {
			L.Push(lua.LNil)
			return 1
		}
		value, ok := opts.Credentials.Credential(opts.PluginID, name)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(value))
		return 1
	}))
	L.SetGlobal("pipewise", bridge)
}
