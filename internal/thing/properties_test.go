package thing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/jgulick48/hab-cloud-bridge/internal/models"
)

func Test_MemoryStore(t *testing.T) {
	store := NewMemoryStore(map[string]string{"userId": "u1"})
	require.NoError(t, store.Set("accessToken", "a"))
	require.NoError(t, store.Set("refreshToken", "r"))
	value, ok := store.Get("accessToken")
	assert.True(t, ok)
	assert.Equal(t, "a", value)

	require.NoError(t, store.Delete("accessToken", "refreshToken"))
	assert.Equal(t, map[string]string{"userId": "u1"}, store.All())

	require.NoError(t, store.Set("userId", ""))
	_, ok = store.Get("userId")
	assert.False(t, ok)
}

func Test_FileStore_Persists(t *testing.T) {
	dir := t.TempDir()
	uid := NewUID("lynkco", "api", "main")
	store, err := NewFileStore(dir, uid)
	require.NoError(t, err)
	require.NoError(t, store.Set("refreshToken", "secret"))

	path := filepath.Join(dir, "lynkco_api_main.json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := NewFileStore(dir, uid)
	require.NoError(t, err)
	value, ok := reopened.Get("refreshToken")
	assert.True(t, ok)
	assert.Equal(t, "secret", value)
}

func Test_FileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	uid := NewUID("meater", "api", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meater_api_main.json"), []byte("{"), 0600))
	_, err := NewFileStore(dir, uid)
	assert.Error(t, err)
}

func Test_KeyringStore(t *testing.T) {
	keyring.MockInit()
	uid := NewUID("lynkco", "api", "main")
	store, err := NewKeyringStore(uid)
	require.NoError(t, err)
	require.NoError(t, store.Set("cccToken", "ccc"))

	reopened, err := NewKeyringStore(uid)
	require.NoError(t, err)
	value, ok := reopened.Get("cccToken")
	assert.True(t, ok)
	assert.Equal(t, "ccc", value)

	require.NoError(t, reopened.Delete("cccToken"))
	_, err = keyring.Get(KeyringService, uid.String())
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func Test_FailedWriteKeepsValues(t *testing.T) {
	keyring.MockInit()
	uid := NewUID("lynkco", "api", "locked")
	store, err := NewKeyringStore(uid)
	require.NoError(t, err)
	require.NoError(t, store.Set("refreshToken", "r1"))

	keyring.MockInitWithError(errors.New("keyring locked"))
	defer keyring.MockInit()
	assert.Error(t, store.Set("refreshToken", "r2"))
	assert.Error(t, store.Delete("refreshToken"))
	value, _ := store.Get("refreshToken")
	assert.Equal(t, "r1", value)
}

func Test_FileStore_Reload(t *testing.T) {
	dir := t.TempDir()
	uid := NewUID("lynkco", "api", "main")
	running, err := NewFileStore(dir, uid)
	require.NoError(t, err)
	other, err := NewFileStore(dir, uid)
	require.NoError(t, err)
	require.NoError(t, other.Set("refreshToken", "from-cli"))

	_, ok := running.Get("refreshToken")
	assert.False(t, ok)
	require.NoError(t, running.(Reloader).Reload())
	value, _ := running.Get("refreshToken")
	assert.Equal(t, "from-cli", value)
}

func Test_NewPropertyStore_Backends(t *testing.T) {
	keyring.MockInit()
	uid := NewUID("verisure", "api", "main")

	store, err := NewPropertyStore(models.PropertyStoreConfig{Backend: "memory"}, uid, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set("a", "b"))

	store, err = NewPropertyStore(models.PropertyStoreConfig{}, uid, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set("a", "b"))
	stored, err := keyring.Get(KeyringService, uid.String())
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"b"}`, stored)

	_, err = NewPropertyStore(models.PropertyStoreConfig{Backend: "vault"}, uid, nil)
	assert.Error(t, err)
}
