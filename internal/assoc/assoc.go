// Package assoc discovers the non-primary files logically attached to a
// primary scan: the JSON sidecar, bval/bvec for DWI, events/physio for
// functional scans, and aslcontext for ASL. Associations are recomputed by
// filename pattern matching every time a rename or purge is planned; they
// are never stored.
package assoc

import (
	"os"
	"path/filepath"
	"strings"

	"bidsc/internal/entities"
)

// Discover returns the dataset-relative paths of every association of a
// primary scan that exists on disk. Paired M0 scans are deliberately not
// associations: they keep their filename, only their IntendedFor reference
// follows a rename.
func Discover(root, relPath string) []string {
	parsed := entities.Parse(relPath)
	stem := primaryStem(relPath)
	noSuffix := stemWithoutSuffix(stem, parsed["suffix"])

	candidates := []string{stem + ".json"}
	switch parsed["datatype"] {
	case "dwi":
		candidates = append(candidates, stem+".bval", stem+".bvec")
	case "func":
		candidates = append(candidates,
			noSuffix+"_events.tsv", noSuffix+"_events.json",
			noSuffix+"_physio.tsv.gz", noSuffix+"_physio.json")
	case "perf":
		candidates = append(candidates, noSuffix+"_aslcontext.tsv")
	}

	var out []string
	for _, c := range candidates {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(c))); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// MapToNewPrimary rewrites an association path to follow its primary from
// oldPrimary to newPrimary, preserving the association's own tail
// (".json", "_events.tsv", ...). Returns ok=false when the association does
// not share the primary's stem.
func MapToNewPrimary(assocPath, oldPrimary, newPrimary string) (string, bool) {
	oldStem := primaryStem(oldPrimary)
	newStem := primaryStem(newPrimary)
	if rest, ok := strings.CutPrefix(assocPath, oldStem); ok {
		return newStem + rest, true
	}

	oldParsed := entities.Parse(oldPrimary)
	newParsed := entities.Parse(newPrimary)
	oldNoSuffix := stemWithoutSuffix(oldStem, oldParsed["suffix"])
	newNoSuffix := stemWithoutSuffix(newStem, newParsed["suffix"])
	if rest, ok := strings.CutPrefix(assocPath, oldNoSuffix); ok {
		return newNoSuffix + rest, true
	}
	return "", false
}

// primaryStem strips the imaging extension from a primary path
func primaryStem(path string) string {
	return strings.TrimSuffix(strings.TrimSuffix(path, ".gz"), ".nii")
}

// stemWithoutSuffix drops the trailing _<suffix> segment when present
func stemWithoutSuffix(stem, suffix string) string {
	if suffix != "" && strings.HasSuffix(stem, "_"+suffix) {
		return strings.TrimSuffix(stem, "_"+suffix)
	}
	return stem
}
