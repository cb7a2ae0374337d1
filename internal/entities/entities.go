// Package entities implements the BIDS filename entity model: parsing
// key-value segments out of scan filenames, serializing entity sets to their
// canonical string form, and rebuilding filenames after renames.
// All functions are pure; no I/O happens here.
package entities

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Separator joins an entity-set string and a ParamGroup id into a KeyParamGroup
const Separator = "__"

// shortToLong maps filename entity keys to the long keys used in
// entity-set strings.
var shortToLong = map[string]string{
	"sub":       "subject",
	"ses":       "session",
	"task":      "task",
	"acq":       "acquisition",
	"ce":        "ceagent",
	"trc":       "tracer",
	"rec":       "reconstruction",
	"dir":       "direction",
	"run":       "run",
	"mod":       "mod",
	"echo":      "echo",
	"flip":      "flip",
	"inv":       "inv",
	"mt":        "mt",
	"part":      "part",
	"proc":      "proc",
	"hemi":      "hemisphere",
	"space":     "space",
	"recording": "recording",
	"chunk":     "chunk",
	"res":       "resolution",
	"den":       "den",
	"label":     "label",
	"desc":      "description",
}

var longToShort = func() map[string]string {
	m := make(map[string]string, len(shortToLong))
	for s, l := range shortToLong {
		m[l] = s
	}
	return m
}()

// filenameOrder is the canonical BIDS ordering of entities within a filename.
// Subject and session always lead; suffix always trails.
var filenameOrder = []string{
	"task", "acq", "ce", "trc", "rec", "dir", "run", "mod", "echo",
	"flip", "inv", "mt", "part", "proc", "hemi", "space", "recording",
	"chunk", "res", "den", "label", "desc",
}

// knownDatatypes are the BIDS datatype folder names recognized when deriving
// a file's datatype from its path.
var knownDatatypes = map[string]bool{
	"anat": true, "func": true, "dwi": true, "fmap": true, "perf": true,
	"meg": true, "eeg": true, "ieeg": true, "beh": true, "pet": true,
	"micr": true, "nirs": true, "motion": true,
}

// IsDatatype reports whether name is a recognized BIDS datatype folder name
func IsDatatype(name string) bool {
	return knownDatatypes[name]
}

// Level selects the grouping level. At SubjectLevel the session entity is
// excluded from entity-set strings; at SessionLevel it is retained.
type Level string

const (
	// SubjectLevel groups across sessions
	SubjectLevel Level = "subject"
	// SessionLevel keeps sessions distinct
	SessionLevel Level = "session"
)

// ParseLevel converts a string to a Level, defaulting to SubjectLevel
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", string(SubjectLevel):
		return SubjectLevel, nil
	case string(SessionLevel):
		return SessionLevel, nil
	}
	return SubjectLevel, fmt.Errorf("unknown grouping level %q (want subject or session)", s)
}

// Parse extracts all key-value filename segments plus "suffix", "extension",
// and "datatype" (from the nearest ancestor directory matching a known
// datatype name) from a scan file path. Keys are the short filename forms.
// A filename with no recognizable entities yields a map containing at most
// suffix/extension/datatype; that is a valid (empty) entity set, not an error.
func Parse(path string) map[string]string {
	out := map[string]string{}

	// Datatype from the nearest matching ancestor directory.
	dir := filepath.ToSlash(filepath.Dir(path))
	parts := strings.Split(dir, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if knownDatatypes[parts[i]] {
			out["datatype"] = parts[i]
			break
		}
	}

	base := filepath.Base(path)
	if idx := strings.Index(base, "."); idx >= 0 {
		out["extension"] = base[idx:]
		base = base[:idx]
	}

	segments := strings.Split(base, "_")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if k, v, ok := strings.Cut(seg, "-"); ok && k != "" && v != "" {
			out[k] = v
			continue
		}
		// The trailing dashless segment is the suffix.
		if i == len(segments)-1 {
			out["suffix"] = seg
		}
	}

	return out
}

// SetString serializes parsed entities to the canonical entity-set string:
// long-form keys sorted alphabetically, joined as key-value pairs with "_".
// Subject, extension, and (at subject level) session are excluded; datatype
// and suffix participate as ordinary keys. Files with no remaining entities
// map to the empty string, which is itself a valid set.
func SetString(parsed map[string]string, level Level) string {
	pairs := make(map[string]string, len(parsed))
	for k, v := range parsed {
		long := k
		if l, ok := shortToLong[k]; ok {
			long = l
		}
		switch long {
		case "subject", "extension":
			continue
		case "session":
			if level == SubjectLevel {
				continue
			}
		}
		pairs[long] = v
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(k)
		b.WriteByte('-')
		b.WriteString(pairs[k])
	}
	return b.String()
}

// JoinSet serializes a long-key entity map back to the canonical entity-set
// string form: keys sorted alphabetically, key-value pairs joined with "_".
func JoinSet(pairs map[string]string) string {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(k)
		b.WriteByte('-')
		b.WriteString(pairs[k])
	}
	return b.String()
}

// ParseSetString parses an entity-set string back into a long-key map.
// The empty string parses to an empty map. A segment without a dash is a
// malformed set and yields an error.
func ParseSetString(s string) (map[string]string, error) {
	out := map[string]string{}
	if s == "" {
		return out, nil
	}
	for _, seg := range strings.Split(s, "_") {
		k, v, ok := strings.Cut(seg, "-")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("malformed entity set %q: bad segment %q", s, seg)
		}
		out[k] = v
	}
	return out, nil
}

// KeyParamGroup joins an entity-set string and a ParamGroup id into the
// composite key used to join the files and summary tables.
func KeyParamGroup(entitySet string, paramGroup int) string {
	return fmt.Sprintf("%s%s%d", entitySet, Separator, paramGroup)
}

// SplitKeyParamGroup splits a KeyParamGroup back into its parts
func SplitKeyParamGroup(key string) (entitySet string, paramGroup string, err error) {
	idx := strings.LastIndex(key, Separator)
	if idx < 0 {
		return "", "", fmt.Errorf("malformed KeyParamGroup %q", key)
	}
	return key[:idx], key[idx+len(Separator):], nil
}

// BuildPath rebuilds a dataset-relative file path for the given subject and
// session from an entity-set's long-key entities. The datatype entity selects
// the containing folder; filename entities appear in canonical BIDS order.
func BuildPath(subject, session string, setEntities map[string]string, extension string) string {
	short := map[string]string{}
	for k, v := range setEntities {
		if k == "datatype" || k == "suffix" {
			continue
		}
		sk := k
		if s, ok := longToShort[k]; ok {
			sk = s
		}
		short[sk] = v
	}

	var name strings.Builder
	name.WriteString("sub-" + subject)
	if session != "" {
		name.WriteString("_ses-" + session)
	}
	for _, k := range filenameOrder {
		if v, ok := short[k]; ok {
			name.WriteString("_" + k + "-" + v)
			delete(short, k)
		}
	}
	// Entities outside the canonical list go last, alphabetically.
	var rest []string
	for k := range short {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		name.WriteString("_" + k + "-" + short[k])
	}
	if suffix := setEntities["suffix"]; suffix != "" {
		name.WriteString("_" + suffix)
	}
	name.WriteString(extension)

	dir := "sub-" + subject
	if session != "" {
		dir = filepath.Join(dir, "ses-"+session)
	}
	if dt := setEntities["datatype"]; dt != "" {
		dir = filepath.Join(dir, dt)
	}
	return filepath.ToSlash(filepath.Join(dir, name.String()))
}
