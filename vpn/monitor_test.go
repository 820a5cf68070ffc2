package vpn

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/openvpn-manager/common"
)

// Exits after a second on its first run and stays up afterwards.
const stubFlaky = `#!/bin/sh
count_file="$(dirname "$0")/runs"
n=$(cat "$count_file" 2>/dev/null || echo 0)
n=$((n + 1))
echo "$n" > "$count_file"
echo "Initialization Sequence Completed"
if [ "$n" -eq 1 ]; then
	sleep 1
	exit 0
fi
exec sleep 30
`

type fakePasswords struct {
	passwords map[string]string
	err       error
}

func (f fakePasswords) Get(profileName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	p, ok := f.passwords[profileName]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return p, nil
}

func TestDefaultMonitorConfig(t *testing.T) {
	cfg := DefaultMonitorConfig()
	assert.Equal(t, common.MonitorInterval, cfg.CheckInterval)
	assert.False(t, cfg.AutoReconnect)
	assert.Equal(t, common.ReconnectDelay, cfg.ReconnectDelay)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
}

func TestMonitorStartStop(t *testing.T) {
	env := newTestEnv(t, stubRunning)
	mon := NewMonitor(env.manager, MonitorConfig{CheckInterval: 50 * time.Millisecond}, nil)

	assert.False(t, mon.IsRunning())
	mon.Start()
	mon.Start()
	assert.True(t, mon.IsRunning())
	mon.Stop()
	mon.Stop()
	assert.False(t, mon.IsRunning())
}

func TestMonitorReportsLostConnection(t *testing.T) {
	env := newTestEnv(t, stubShortLived)
	mon := NewMonitor(env.manager, MonitorConfig{CheckInterval: 50 * time.Millisecond}, nil)

	lost := make(chan string, 1)
	mon.SetOnLost(func(profileName string) { lost <- profileName })

	_, err := env.manager.Connect("Office", "")
	require.NoError(t, err)

	mon.Start()
	defer mon.Stop()

	select {
	case name := <-lost:
		assert.Equal(t, "Office", name)
	case <-time.After(5 * time.Second):
		t.Fatal("connection loss was not reported")
	}
}

func TestMonitorReconnects(t *testing.T) {
	env := newTestEnv(t, stubFlaky)
	mon := NewMonitor(env.manager, MonitorConfig{
		CheckInterval:        50 * time.Millisecond,
		AutoReconnect:        true,
		ReconnectDelay:       50 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}, fakePasswords{passwords: map[string]string{}})

	var mu sync.Mutex
	var attempts []int
	mon.SetOnReconnecting(func(_ string, attempt int) {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, attempt)
	})
	reconnected := make(chan string, 1)
	mon.SetOnReconnected(func(profileName string) { reconnected <- profileName })

	_, err := env.manager.Connect("Office", "")
	require.NoError(t, err)

	mon.Start()
	defer mon.Stop()

	select {
	case name := <-reconnected:
		assert.Equal(t, "Office", name)
	case <-time.After(5 * time.Second):
		t.Fatal("did not reconnect")
	}
	assert.True(t, env.manager.IsConnected())

	mu.Lock()
	assert.Equal(t, []int{1}, attempts)
	mu.Unlock()
}

func TestMonitorPasswordLookupFailure(t *testing.T) {
	env := newTestEnv(t, stubShortLived)
	mon := NewMonitor(env.manager, MonitorConfig{
		CheckInterval:  50 * time.Millisecond,
		AutoReconnect:  true,
		ReconnectDelay: 50 * time.Millisecond,
	}, fakePasswords{err: errors.New("keyring locked")})

	failed := make(chan error, 1)
	mon.SetOnReconnectFailed(func(_ string, err error) { failed <- err })

	_, err := env.manager.Connect("Office", "")
	require.NoError(t, err)

	mon.Start()
	defer mon.Stop()

	select {
	case err := <-failed:
		assert.Contains(t, err.Error(), "keyring locked")
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect failure was not reported")
	}
	assert.False(t, env.manager.IsConnected())
}

func TestMonitorPasswordFallsBackToEmpty(t *testing.T) {
	mon := NewMonitor(nil, DefaultMonitorConfig(), fakePasswords{passwords: map[string]string{"Office": "pw"}})

	password, err := mon.password("Office")
	require.NoError(t, err)
	assert.Equal(t, "pw", password)

	password, err = mon.password("Home")
	require.NoError(t, err)
	assert.Empty(t, password)
}
