// Package cleanup trims a per-watershed output directory down to the files a
// downstream consumer needs.
package cleanup

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Mode selects an allow-list.
type Mode string

const (
	ModeNone       Mode = ""
	ModeProduction Mode = "production"
	ModeViz        Mode = "viz"
)

var sharedFiles = []string{
	"rem_zeroed_masked.tif",
	"gw_catchments_reaches_filtered_addedAttributes_crosswalked.gpkg",
	"demDerived_reaches_split_filtered_addedAttributes_crosswalked.gpkg",
	"gw_catchments_reaches_filtered_addedAttributes.tif",
	"hydroTable.csv",
	"src.json",
	"small_segments.csv",
	"src_full_crosswalked.csv",
}

var allowLists = map[Mode][]string{
	ModeProduction: append(append([]string{}, sharedFiles...),
		"bathy_crosswalk_calcs.csv",
		"bathy_stream_order_calcs.csv",
		"bathy_thalweg_flag.csv",
		"bathy_xs_area_hydroid_lookup.csv",
		"usgs_elev_table.csv",
		"hand_ref_elev_table.csv",
	),
	ModeViz: append(append([]string{}, sharedFiles...),
		"demDerived_reaches_split_points.gpkg",
		"flowdir_d8_burned_filled.tif",
		"dem_thalwegCond.tif",
	),
}

// AllowList returns a copy of the fixed allow-list for mode, or nil for an
// unknown mode.
func AllowList(mode Mode) []string {
	return append([]string(nil), allowLists[mode]...)
}

// ModeFromFlags maps the CLI flags to a mode. Viz wins when both are set;
// neither gives ModeNone.
func ModeFromFlags(production, viz bool) Mode {
	switch {
	case viz:
		return ModeViz
	case production:
		return ModeProduction
	}
	return ModeNone
}

// Cleanup deletes every regular file directly inside dir that is neither in
// the mode's allow-list nor in extra. Subdirectories are left alone. It
// returns the removed names, sorted. ModeNone removes nothing.
func Cleanup(dir string, mode Mode, extra []string) ([]string, error) {
	if mode == ModeNone {
		return nil, nil
	}
	list, ok := allowLists[mode]
	if !ok {
		return nil, eris.Errorf("cleanup: unknown mode %q", mode)
	}

	allow := make([]string, 0, len(list)+len(extra))
	allow = append(append(allow, list...), extra...)
	removed, err := KeepOnly(dir, allow)
	if err != nil {
		return removed, err
	}
	zap.L().Info("cleanup: directory trimmed",
		zap.String("dir", dir),
		zap.String("mode", string(mode)),
		zap.Int("removed", len(removed)),
	)
	return removed, nil
}

// KeepOnly deletes every regular file directly inside dir whose name is not
// in allow, and returns the removed names sorted. An empty allow removes all
// files. Subdirectories are left alone.
func KeepOnly(dir string, allow []string) ([]string, error) {
	keep := make(map[string]bool, len(allow))
	for _, name := range allow {
		keep[name] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "cleanup: list %s", dir)
	}

	var removed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || keep[name] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			sort.Strings(removed)
			return removed, eris.Wrapf(err, "cleanup: remove %s", name)
		}
		removed = append(removed, name)
	}
	sort.Strings(removed)
	return removed, nil
}
