package vpn

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/openvpn-manager/common"
)

func newTestStore(t *testing.T) (*ProfileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), common.ProfilesFileName)
	store, err := NewProfileStore(path, NewInspector(nil))
	require.NoError(t, err)
	return store, path
}

func TestProfileStoreAddAndList(t *testing.T) {
	store, path := newTestStore(t)
	config := writeConfig(t, "client\nremote 10.0.0.1 1194\n")

	profile, err := store.Add("Office", config)
	require.NoError(t, err)
	assert.Equal(t, "Office", profile.Name)
	assert.Equal(t, "10.0.0.1", profile.ServerAddress)
	assert.Len(t, profile.ID, 36)
	assert.False(t, profile.CreatedAt.IsZero())

	profiles := store.List()
	require.Len(t, profiles, 1)
	assert.Equal(t, "10.0.0.1", profiles[0].ServerAddress)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	var onDisk map[string]Profile
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, config, onDisk["Office"].ConfigPath)
}

func TestProfileStoreAddMissingConfig(t *testing.T) {
	store, path := newTestStore(t)

	_, err := store.Add("Office", filepath.Join(t.TempDir(), "missing.ovpn"))
	assert.ErrorIs(t, err, common.ErrConfigNotFound)
	assert.Empty(t, store.List())
	assert.NoFileExists(t, path)
}

func TestProfileStoreUpsertKeepsID(t *testing.T) {
	store, _ := newTestStore(t)
	first, err := store.Add("Office", writeConfig(t, "remote 10.0.0.1\n"))
	require.NoError(t, err)

	second, err := store.Add("Office", writeConfig(t, "remote 10.0.0.2\n"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	profiles := store.List()
	require.Len(t, profiles, 1)
	assert.Equal(t, "10.0.0.2", profiles[0].ServerAddress)
}

func TestProfileStoreRemove(t *testing.T) {
	store, path := newTestStore(t)
	_, err := store.Add("Office", writeConfig(t, "remote 10.0.0.1\n"))
	require.NoError(t, err)

	assert.ErrorIs(t, store.Remove("Home"), common.ErrProfileNotFound)
	require.NoError(t, store.Remove("Office"))
	assert.Empty(t, store.List())

	reopened, err := NewProfileStore(path, nil)
	require.NoError(t, err)
	assert.Empty(t, reopened.List())
}

func TestProfileStoreListSorted(t *testing.T) {
	store, _ := newTestStore(t)
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		_, err := store.Add(name, writeConfig(t, "remote 10.0.0.1\n"))
		require.NoError(t, err)
	}

	var names []string
	for _, p := range store.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)
}

func TestProfileStorePersistsAcrossReopen(t *testing.T) {
	store, path := newTestStore(t)
	added, err := store.Add("Office", writeConfig(t, "remote 10.0.0.1\n"))
	require.NoError(t, err)
	require.NoError(t, store.MarkUsed("Office"))

	reopened, err := NewProfileStore(path, nil)
	require.NoError(t, err)
	got, err := reopened.Get("Office")
	require.NoError(t, err)
	assert.Equal(t, added.ID, got.ID)
	assert.False(t, got.LastUsed.IsZero())

	address, ok := reopened.ServerAddress("Office")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", address)

	_, ok = reopened.ServerAddress("Home")
	assert.False(t, ok)
}

func TestProfileStoreBackfillsAddress(t *testing.T) {
	store, path := newTestStore(t)
	config := writeConfig(t, "client\n")
	_, err := store.Add("Office", config)
	require.NoError(t, err)

	_, ok := store.ServerAddress("Office")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(config, []byte("client\nremote 10.0.0.9\n"), 0600))
	profiles := store.List()
	require.Len(t, profiles, 1)
	assert.Equal(t, "10.0.0.9", profiles[0].ServerAddress)

	reopened, err := NewProfileStore(path, nil)
	require.NoError(t, err)
	address, ok := reopened.ServerAddress("Office")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.9", address)
}

func TestProfileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), common.ProfilesFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewProfileStore(path, nil)
	assert.ErrorIs(t, err, common.ErrStoreCorrupt)
}

func TestProfileStoreGetReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Add("Office", writeConfig(t, "remote 10.0.0.1\n"))
	require.NoError(t, err)

	p, err := store.Get("Office")
	require.NoError(t, err)
	p.ServerAddress = "changed"

	address, _ := store.ServerAddress("Office")
	assert.Equal(t, "10.0.0.1", address)
}

func TestProfileStoreFailedSaveLeavesProfilesUnchanged(t *testing.T) {
	sub := filepath.Join(t.TempDir(), "sub")
	store, err := NewProfileStore(filepath.Join(sub, common.ProfilesFileName), NewInspector(nil))
	require.NoError(t, err)
	_, err = store.Add("Office", writeConfig(t, "remote 10.0.0.1\n"))
	require.NoError(t, err)

	// A regular file where the directory was makes every save fail.
	require.NoError(t, os.RemoveAll(sub))
	require.NoError(t, os.WriteFile(sub, nil, 0600))

	_, err = store.Add("Ghost", writeConfig(t, "remote 10.0.0.2\n"))
	require.Error(t, err)
	_, err = store.Get("Ghost")
	assert.ErrorIs(t, err, common.ErrProfileNotFound)

	_, err = store.Add("Office", writeConfig(t, "remote 10.0.0.3\n"))
	require.Error(t, err)
	address, ok := store.ServerAddress("Office")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", address)

	require.Error(t, store.Remove("Office"))
	_, err = store.Get("Office")
	assert.NoError(t, err)

	require.Error(t, store.MarkUsed("Office"))
	got, err := store.Get("Office")
	require.NoError(t, err)
	assert.True(t, got.LastUsed.IsZero())

	var names []string
	for _, p := range store.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Office"}, names)
}

// gatedResolver blocks lookups until release is closed.
type gatedResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return "192.0.2.44", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestProfileStoreListResolvesWithoutLock(t *testing.T) {
	resolver := &gatedResolver{entered: make(chan struct{}, 1), release: make(chan struct{})}
	path := filepath.Join(t.TempDir(), common.ProfilesFileName)
	store, err := NewProfileStore(path, NewInspector(resolver))
	require.NoError(t, err)

	config := writeConfig(t, "client\n")
	_, err = store.Add("Office", config)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(config, []byte("remote vpn.example.com\n"), 0600))

	listed := make(chan []*Profile, 1)
	go func() { listed <- store.List() }()

	select {
	case <-resolver.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("List did not start resolving")
	}

	got := make(chan bool, 1)
	go func() {
		_, ok := store.ServerAddress("Office")
		got <- ok
	}()
	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("ServerAddress blocked while List was resolving")
	}

	close(resolver.release)
	profiles := <-listed
	require.Len(t, profiles, 1)
	assert.Equal(t, "192.0.2.44", profiles[0].ServerAddress)

	reopened, err := NewProfileStore(path, nil)
	require.NoError(t, err)
	address, ok := reopened.ServerAddress("Office")
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.44", address)
}
