package cleanup

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populate(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	return dir
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func TestCleanup_Production(t *testing.T) {
	dir := populate(t, "hydroTable.csv", "usgs_elev_table.csv", "dem_thalwegCond.tif", "scratch.tif", "notes.txt")

	removed, err := Cleanup(dir, ModeProduction, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dem_thalwegCond.tif", "notes.txt", "scratch.tif"}, removed)
	assert.Equal(t, []string{"hydroTable.csv", "usgs_elev_table.csv"}, remaining(t, dir))
}

func TestCleanup_Viz(t *testing.T) {
	dir := populate(t, "hydroTable.csv", "usgs_elev_table.csv", "dem_thalwegCond.tif")

	removed, err := Cleanup(dir, ModeViz, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"usgs_elev_table.csv"}, removed)
	assert.Equal(t, []string{"dem_thalwegCond.tif", "hydroTable.csv"}, remaining(t, dir))
}

func TestCleanup_ExtraAllowList(t *testing.T) {
	dir := populate(t, "src.json", "keep_me.csv", "drop_me.csv")

	_, err := Cleanup(dir, ModeProduction, []string{"keep_me.csv"})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep_me.csv", "src.json"}, remaining(t, dir))
}

func TestCleanup_SkipsSubdirectories(t *testing.T) {
	dir := populate(t, "junk.txt")
	sub := filepath.Join(dir, "branches")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "junk.txt"), nil, 0o644))

	removed, err := Cleanup(dir, ModeViz, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"junk.txt"}, removed)
	assert.FileExists(t, filepath.Join(sub, "junk.txt"))
}

func TestCleanup_NoneIsNoop(t *testing.T) {
	dir := populate(t, "junk.txt")
	removed, err := Cleanup(dir, ModeNone, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, []string{"junk.txt"}, remaining(t, dir))
}

func TestCleanup_Errors(t *testing.T) {
	_, err := Cleanup(t.TempDir(), Mode("archive"), nil)
	assert.Error(t, err)

	_, err = Cleanup(filepath.Join(t.TempDir(), "missing"), ModeProduction, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKeepOnly(t *testing.T) {
	dir := populate(t, "a.tif", "b.csv", "c.tmp")

	removed, err := KeepOnly(dir, []string{"a.tif", "b.csv"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c.tmp"}, removed)
	assert.Equal(t, []string{"a.tif", "b.csv"}, remaining(t, dir))
}

func TestKeepOnly_EmptyAllowListRemovesAll(t *testing.T) {
	dir := populate(t, "a.tif", "b.csv", "c.tmp")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "branches"), 0o755))

	removed, err := KeepOnly(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tif", "b.csv", "c.tmp"}, removed)
	assert.Equal(t, []string{"branches"}, remaining(t, dir))
}

func TestKeepOnly_MissingDir(t *testing.T) {
	_, err := KeepOnly(filepath.Join(t.TempDir(), "missing"), []string{"a.tif"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestModeFromFlags(t *testing.T) {
	assert.Equal(t, ModeNone, ModeFromFlags(false, false))
	assert.Equal(t, ModeProduction, ModeFromFlags(true, false))
	assert.Equal(t, ModeViz, ModeFromFlags(false, true))
	assert.Equal(t, ModeViz, ModeFromFlags(true, true))
}

func TestAllowList(t *testing.T) {
	prod := AllowList(ModeProduction)
	viz := AllowList(ModeViz)
	assert.Len(t, prod, 14)
	assert.Len(t, viz, 11)
	assert.Contains(t, prod, "bathy_thalweg_flag.csv")
	assert.NotContains(t, viz, "bathy_thalweg_flag.csv")

	prod[0] = "mutated"
	assert.NotEqual(t, "mutated", AllowList(ModeProduction)[0])
	assert.Nil(t, AllowList(Mode("other")))
}
