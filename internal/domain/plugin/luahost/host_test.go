package luahost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEntry(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, EntryFileName), []byte(script), 0o644))
	return dir
}

type mapCredentials map[string]string

func (c mapCredentials) Credential(_, name string) (string, bool) {
	v, ok := c[name]
	return v, ok
}

func TestOpen_RunsTopLevel(t *testing.T) {
	t.Parallel()

	dir := writeEntry(t, `greeting = "hello"`)
	m, err := Open(dir, Options{PluginID: "x", Log: zerolog.Nop()})
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, dir, m.Dir())
}

func TestOpen_MissingEntry(t *testing.T) {
	t.Parallel()

	_, err := Open(t.TempDir(), Options{PluginID: "x"})
	assert.ErrorContains(t, err, EntryFileName)
}

func TestOpen_SyntaxError(t *testing.T) {
	t.Parallel()

	dir := writeEntry(t, `function broken(((`)
	_, err := Open(dir, Options{PluginID: "x"})
	assert.ErrorContains(t, err, "loading entry module")
}

func TestOpen_ScriptSizeLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	big := make([]byte, maxScriptSize+1)
	for i := range big {
		big[i] = ' '
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, EntryFileName), big, 0o644))

	_, err := Open(dir, Options{PluginID: "x"})
	assert.ErrorContains(t, err, "exceeds limit")
}

func TestHooks_Called(t *testing.T) {
	t.Parallel()

	dir := writeEntry(t, `
state = "initial"
function on_load() state = "loaded" end
function on_unload() state = "unloaded" end
`)
	m, err := Open(dir, Options{PluginID: "x"})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.CallLoad())
	assert.Equal(t, "loaded", m.state.GetGlobal("state").String())

	require.NoError(t, m.CallUnload())
	assert.Equal(t, "unloaded", m.state.GetGlobal("state").String())
}

func TestHooks_Optional(t *testing.T) {
	t.Parallel()

	m, err := Open(writeEntry(t, `x = 1`), Options{PluginID: "x"})
	require.NoError(t, err)
	defer m.Close()

	assert.NoError(t, m.CallLoad())
	assert.NoError(t, m.CallUnload())
}

func TestHooks_RuntimeErrorSurfaces(t *testing.T) {
	t.Parallel()

	dir := writeEntry(t, `function on_load() error("plugin blew up") end`)
	m, err := Open(dir, Options{PluginID: "x"})
	require.NoError(t, err)
	defer m.Close()

	err = m.CallLoad()
	assert.ErrorContains(t, err, "plugin blew up")
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	m, err := Open(writeEntry(t, `x = 1`), Options{PluginID: "x"})
	require.NoError(t, err)

	m.Close()
	m.Close()
	assert.ErrorIs(t, m.CallLoad(), ErrModuleClosed)
}

func TestBridge_Credential(t *testing.T) {
	t.Parallel()

	dir := writeEntry(t, `
function on_load()
  token = pipewise.credential("api_token")
  missing = pipewise.credential("nope")
end
`)
	m, err := Open(dir, Options{
		PluginID:    "x",
		Credentials: mapCredentials{"api_token": "s3cret"},
	})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.CallLoad())
	assert.Equal(t, "s3cret", m.state.GetGlobal("token").String())
	assert.Equal(t, "nil", m.state.GetGlobal("missing").String())
}

func TestBridge_CredentialWithoutStore(t *testing.T) {
	t.Parallel()

	dir := writeEntry(t, `function on_load() v = pipewise.credential("any") end`)
	m, err := Open(dir, Options{PluginID: "x"})
	require.NoError(t, err)
	defer m.Close()

	assert.NoError(t, m.CallLoad())
}

func TestSandbox_NoIOLibrary(t *testing.T) {
	t.Parallel()

	// io, os, and package are never opened; touching them is a runtime error.
	dir := writeEntry(t, `function on_load() io.open("/etc/passwd") end`)
	m, err := Open(dir, Options{PluginID: "x"})
	require.NoError(t, err)
	defer m.Close()

	assert.Error(t, m.CallLoad())
}
