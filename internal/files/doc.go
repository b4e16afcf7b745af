// Package files provides file system operations and discovery utilities
// for imaging FCS acquisition directories.
//
// This package contains three main components:
//
// Discovery: Finds run artifacts on disk, such as evaluation workbooks
// (.xlsx) and average-intensity images (.tif), plus files matching glob
// patterns. It also includes utilities for filtering files by modification
// time and finding the latest file.
//
// Grouping: Groups discovered artifacts into acquisition runs by filename
// convention. Files sharing a stem before the final underscore suffix
// ("cell1_1.xlsx", "cell1_1_AVR.tif") belong to the same run.
//
// Manager: Provides basic file management operations such as copying, moving,
// deleting files, and ensuring directories exist. All operations are relative
// to a base path to maintain portability.
//
// Example usage:
//
//	// Create a discovery instance
//	discovery := files.NewDiscovery("/path/to/acquisitions")
//
//	// Find all run artifacts and group them into runs
//	artifacts, err := discovery.FindRunArtifacts("plate1")
//	groups := files.GroupRuns(artifacts)
//
//	for _, g := range groups {
//	    if g.Loadable() {
//	        // Load the run
//	    }
//	}
package files
