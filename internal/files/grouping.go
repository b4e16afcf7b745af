package files

import (
	"path/filepath"
	"sort"
	"strings"
)

// RunGroup is the set of artifact files sharing one run key.
type RunGroup struct {
	Key   string
	Files []FileInfo
}

// RunKey derives the grouping key of an artifact filename: the name with its
// final underscore suffix removed ("cell1_AVR.tif" and "cell1_eval.xlsx"
// both key to "cell1"). A name without underscores keys to its own stem.
func RunKey(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return strings.TrimSuffix(name, filepath.Ext(name))
	}
	return strings.Join(parts[:len(parts)-1], "_")
}

// GroupRuns groups artifact files by run key. Groups are returned sorted by
// key, files inside a group sorted by name.
func GroupRuns(files []FileInfo) []RunGroup {
	grouped := make(map[string][]FileInfo)
	for _, f := range files {
		key := RunKey(f.Name)
		grouped[key] = append(grouped[key], f)
	}

	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]RunGroup, 0, len(keys))
	for _, key := range keys {
		members := grouped[key]
		sort.Slice(members, func(i, j int) bool {
			return members[i].Name < members[j].Name
		})
		groups = append(groups, RunGroup{Key: key, Files: members})
	}
	return groups
}

// UsefulFiles returns the group's loadable artifacts: the average-intensity
// TIFF and the evaluation workbooks, with metadata workbooks excluded. TIFFs
// sort before workbooks, ties break by name.
func (g RunGroup) UsefulFiles() []FileInfo {
	var useful []FileInfo
	for _, f := range g.Files {
		switch {
		case strings.HasSuffix(f.Name, "_AVR.tif"):
			useful = append(useful, f)
		case strings.HasSuffix(f.Name, ".xlsx") && !strings.HasSuffix(f.Name, "_metadata.xlsx"):
			useful = append(useful, f)
		}
	}

	sort.Slice(useful, func(i, j int) bool {
		iTif := strings.HasSuffix(useful[i].Name, ".tif")
		jTif := strings.HasSuffix(useful[j].Name, ".tif")
		if iTif != jTif {
			return iTif
		}
		return useful[i].Name < useful[j].Name
	})

	return useful
}

// WorkbookPath returns the path of the group's evaluation workbook.
func (g RunGroup) WorkbookPath() (string, bool) {
	for _, f := range g.UsefulFiles() {
		if strings.HasSuffix(f.Name, ".xlsx") {
			return f.Path, true
		}
	}
	return "", false
}

// IntensityPath returns the path of the group's average-intensity TIFF.
func (g RunGroup) IntensityPath() (string, bool) {
	for _, f := range g.UsefulFiles() {
		if strings.HasSuffix(f.Name, "_AVR.tif") {
			return f.Path, true
		}
	}
	return "", false
}

// Loadable reports whether the group has an evaluation workbook.
func (g RunGroup) Loadable() bool {
	_, ok := g.WorkbookPath()
	return ok
}
