package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/inspec/internal/fsutil"
	"github.com/banshee-data/inspec/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func readBack(t *testing.T, fsys *fsutil.MemoryFileSystem, path string) map[string]any {
	t.Helper()
	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestOpenStore_CreatesDefaults(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()

	store, repaired, err := OpenStore(fsys, "data/config.txt")
	require.NoError(t, err)
	assert.Len(t, repaired, len(fields))
	assert.Empty(t, cmp.Diff(Defaults(), store.Settings()))
	assert.True(t, fsys.Exists("data"))

	onDisk := readBack(t, fsys, "data/config.txt")
	assert.Equal(t, float64(20), onDisk["TriggerThreshold"])
	assert.Equal(t, "QVGA", onDisk["FrameSize"])
}

func TestOpenStore_RepairsInvalidKeys(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile(DefaultPath, []byte(`{
		"TriggerThreshold": 35,
		"TossThreshold": "loud",
		"TossCooldown": 2.5,
		"FrameSize": "VGA",
		"ArtifactFilter": 4,
		"Legacy": true
	}`), 0644))
	writesBefore := fsys.Writes

	store, repaired, err := OpenStore(fsys, DefaultPath)
	require.NoError(t, err)

	s := store.Settings()
	assert.Equal(t, 35.0, s.TriggerThreshold)
	assert.Equal(t, "VGA", s.FrameSize)
	assert.Equal(t, Defaults().TossThreshold, s.TossThreshold)
	assert.Equal(t, Defaults().TossCooldown, s.TossCooldown)
	assert.Equal(t, Defaults().ArtifactFilter, s.ArtifactFilter)

	assert.Contains(t, repaired, "TossThreshold")
	assert.Contains(t, repaired, "TossCooldown")
	assert.Contains(t, repaired, "ArtifactFilter")
	assert.Contains(t, repaired, "Researcher", "missing keys are repaired too")
	assert.NotContains(t, repaired, "TriggerThreshold")

	assert.Equal(t, writesBefore+1, fsys.Writes, "repaired file must be persisted")
	onDisk := readBack(t, fsys, DefaultPath)
	assert.Equal(t, float64(8000), onDisk["TossThreshold"])
	assert.NotContains(t, onDisk, "Legacy")
}

func TestOpenStore_CompleteFileIsNotRewritten(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	data, err := json.Marshal(Defaults())
	require.NoError(t, err)
	require.NoError(t, fsys.WriteFile(DefaultPath, data, 0644))

	_, repaired, err := OpenStore(fsys, DefaultPath)
	require.NoError(t, err)
	assert.Empty(t, repaired)
	assert.Equal(t, 1, fsys.Writes)
}

func TestOpenStore_CorruptFileResets(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile(DefaultPath, []byte(`{"TriggerThreshold":`), 0644))

	store, repaired, err := OpenStore(fsys, DefaultPath)
	require.NoError(t, err)
	assert.Len(t, repaired, len(fields))
	assert.Equal(t, Defaults(), store.Settings())
}

func TestStoreSet(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	store, _, err := OpenStore(fsys, DefaultPath)
	require.NoError(t, err)

	sensor, err := store.Set("TriggerThreshold", "42")
	require.NoError(t, err)
	assert.True(t, sensor)
	assert.Equal(t, float64(42), readBack(t, fsys, DefaultPath)["TriggerThreshold"])

	sensor, err = store.Set("Researcher", "night shift")
	require.NoError(t, err)
	assert.False(t, sensor)

	_, err = store.Set("ImageQuality", "500")
	assert.True(t, errors.Is(err, ErrInvalidValue))
	assert.Equal(t, Defaults().ImageQuality, store.Settings().ImageQuality)
}

func TestStoreSet_PersistFailureRollsBack(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	store, _, err := OpenStore(fsys, DefaultPath)
	require.NoError(t, err)
	writes := fsys.Writes

	fsys.WriteErr = errors.New("read-only filesystem")
	sensor, err := store.Set("LEDFlashes", "5")
	require.Error(t, err)
	assert.False(t, sensor)
	assert.Equal(t, Defaults().LEDFlashes, store.Settings().LEDFlashes)
	assert.Equal(t, writes, fsys.Writes)

	fsys.WriteErr = nil
	_, err = store.Set("LEDFlashes", "5")
	require.NoError(t, err)
	assert.Equal(t, 5, store.Settings().LEDFlashes)
	assert.EqualValues(t, 5, readBack(t, fsys, DefaultPath)["LEDFlashes"])
}

func TestOpenStore_OversizedFileResets(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	big := `{"Researcher":"` + strings.Repeat("x", maxFileSize) + `"}`
	require.NoError(t, fsys.WriteFile(DefaultPath, []byte(big), 0644))

	store, repaired, err := OpenStore(fsys, DefaultPath)
	require.NoError(t, err)
	assert.Len(t, repaired, len(fields))
	assert.Equal(t, Defaults(), store.Settings())
	assert.Equal(t, Defaults().Researcher, readBack(t, fsys, DefaultPath)["Researcher"])
}
