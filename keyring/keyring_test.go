package keyring

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"
)

type fakeKeyring struct {
	data    map[string]string
	failSet bool
}

func newFakeKeyring() *fakeKeyring {
	return &fakeKeyring{data: make(map[string]string)}
}

func (f *fakeKeyring) Set(service, user, password string) error {
	if f.failSet {
		return errors.New("no secret service")
	}
	f.data[service+"/"+user] = password
	return nil
}

func (f *fakeKeyring) Get(service, user string) (string, error) {
	v, ok := f.data[service+"/"+user]
	if !ok {
		return "", gokeyring.ErrNotFound
	}
	return v, nil
}

func (f *fakeKeyring) Delete(service, user string) error {
	delete(f.data, service+"/"+user)
	return nil
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), credentialsFile)
	s := New(path, nil)

	require.NoError(t, s.Set("office", "s3cret"))

	got, err := s.Get("office")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")

	// A fresh store reads the encrypted file back.
	reopened := New(path, nil)
	got, err = reopened.Get("office")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
}

func TestFileStoreDelete(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), credentialsFile), nil)
	require.NoError(t, s.Set("office", "pw"))
	require.NoError(t, s.Delete("office"))

	_, err := s.Get("office")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, s.Exists("office"))

	// Deleting a missing entry is not an error.
	assert.NoError(t, s.Delete("office"))
}

func TestSystemKeyringPreferred(t *testing.T) {
	fake := newFakeKeyring()
	path := filepath.Join(t.TempDir(), credentialsFile)
	s := New(path, fake)

	require.NoError(t, s.Set("home", "pw1"))
	assert.Equal(t, "pw1", fake.data[serviceName+"/home"])
	assert.NoFileExists(t, path)

	got, err := s.Get("home")
	require.NoError(t, err)
	assert.Equal(t, "pw1", got)
}

func TestFallbackWhenSystemKeyringFails(t *testing.T) {
	fake := newFakeKeyring()
	fake.failSet = true
	path := filepath.Join(t.TempDir(), credentialsFile)
	s := New(path, fake)

	require.NoError(t, s.Set("home", "pw2"))
	assert.FileExists(t, path)

	got, err := s.Get("home")
	require.NoError(t, err)
	assert.Equal(t, "pw2", got)
}

func TestProbeSwitchesToFile(t *testing.T) {
	fake := newFakeKeyring()
	fake.failSet = true
	s := New(filepath.Join(t.TempDir(), credentialsFile), fake)
	s.probe()
	assert.True(t, s.useFile)
}

func TestEmptyArguments(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), credentialsFile), nil)
	assert.ErrorIs(t, s.Set("", "pw"), ErrEmptyKey)
	assert.Error(t, s.Set("name", ""))
	_, err := s.Get("")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), credentialsFile), nil)
	_, err := s.decrypt([]byte("not base64 !!"))
	assert.Error(t, err)

	_, err = s.decrypt([]byte("YWJj"))
	assert.Error(t, err)
}
