package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/openvpn-manager/common"
	"github.com/yllada/openvpn-manager/config"
	"github.com/yllada/openvpn-manager/history"
	"github.com/yllada/openvpn-manager/keyring"
)

type cliEnv struct {
	dir        string
	configPath string
	passwords  *keyring.Store
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	return &cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		passwords:  keyring.New(filepath.Join(dir, "credentials"), nil),
	}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{
		build:     BuildInfo{Version: "1.2.3", Commit: "abc123", Built: "2026-01-01"},
		passwords: e.passwords,
	}
	root := newRootCommand(a)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--config", e.configPath}, args...))

	err := root.Execute()
	return out.String(), err
}

func (e *cliEnv) writeOVPN(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestAddListServerRemove(t *testing.T) {
	env := newCLIEnv(t)
	ovpn := env.writeOVPN(t, "office.ovpn", "client\nremote 10.0.0.1 1194\n")

	out, err := env.run(t, "add", "Office", ovpn)
	require.NoError(t, err)
	assert.Contains(t, out, "Profile Office saved")
	assert.Contains(t, out, "10.0.0.1")

	out, err = env.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Office")
	assert.Contains(t, out, "never")

	out, err = env.run(t, "server", "Office")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1\n", out)

	out, err = env.run(t, "remove", "Office")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile Office removed")

	out, err = env.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No VPN profiles configured.")
}

func TestAddMissingConfig(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "add", "Office", filepath.Join(env.dir, "missing.ovpn"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestServerUnknownProfile(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "server", "Nope")
	require.NoError(t, err)
	assert.Equal(t, "unknown\n", out)
}

func TestRemoveUnknownProfile(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "remove", "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile 'Nope' not found")
}

func TestRemoveDeletesSavedPassword(t *testing.T) {
	env := newCLIEnv(t)
	ovpn := env.writeOVPN(t, "office.ovpn", "remote 10.0.0.1\n")

	_, err := env.run(t, "add", "Office", ovpn)
	require.NoError(t, err)
	require.NoError(t, env.passwords.Set("Office", "secret"))

	_, err = env.run(t, "remove", "Office")
	require.NoError(t, err)
	assert.False(t, env.passwords.Exists("Office"))
}

func TestConnectUnknownProfile(t *testing.T) {
	env := newCLIEnv(t)

	cfg := config.DefaultConfig()
	cfg.Notifications = false
	cfg.SweepEnabled = false
	require.NoError(t, cfg.Save(env.configPath))

	_, err := env.run(t, "connect", "Nope")
	require.Error(t, err)
	assert.Equal(t, "Profile 'Nope' not found", err.Error())
	assert.ErrorIs(t, err, common.ErrProfileNotFound)
}

func TestPublicIP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("203.0.113.9\n"))
	}))
	defer server.Close()

	env := newCLIEnv(t)
	cfg := config.DefaultConfig()
	cfg.PublicIPEndpoint = server.URL
	require.NoError(t, cfg.Save(env.configPath))

	out, err := env.run(t, "public-ip")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9\n", out)
}

func TestPublicIPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	env := newCLIEnv(t)
	cfg := config.DefaultConfig()
	cfg.PublicIPEndpoint = server.URL
	require.NoError(t, cfg.Save(env.configPath))

	_, err := env.run(t, "public-ip")
	assert.EqualError(t, err, "could not determine public IP")
}

func TestHistory(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")

	path, err := history.DefaultPath()
	require.NoError(t, err)
	store, err := history.Open(path)
	require.NoError(t, err)
	id, err := store.Begin("Office")
	require.NoError(t, err)
	require.NoError(t, store.SetTunnelIP(id, "10.8.0.2"))
	require.NoError(t, store.End(id, common.OutcomeDisconnected))
	_, err = store.Begin("Home")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err = env.run(t, "history", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Office")
	assert.Contains(t, out, "10.8.0.2")
	assert.Contains(t, out, common.OutcomeDisconnected)
	assert.Contains(t, out, "Home")
	assert.Contains(t, out, "active")
}

func TestVersion(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "OpenVPN Manager v1.2.3")
	assert.Contains(t, out, "abc123")
}

func TestConfigCreatedOnFirstRun(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "version")
	require.NoError(t, err)
	assert.FileExists(t, env.configPath)
}

func TestReadLine(t *testing.T) {
	line, err := readLine(strings.NewReader("secret\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret", line)

	line, err = readLine(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", line)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m 5s", formatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h 0m 1s", formatDuration(2*time.Hour+time.Second))
}
