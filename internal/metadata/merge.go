package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"bidsc/internal/errors"
	"bidsc/internal/grouping"
)

// ImagingFields returns the direct-imaging-parameter field set checked by
// Merge: every configured sidecar field across all modalities.
func ImagingFields(cfg *grouping.Config) map[string]bool {
	fields := map[string]bool{}
	for _, rules := range cfg.SidecarParams {
		for field := range rules {
			fields[field] = true
		}
	}
	return fields
}

// Merge copies every imaging-parameter field of source into a copy of dest.
// The merge is all-or-nothing: if any destination field already holds a
// non-missing value that conflicts with the source's, nothing is merged and
// a reportable error is returned. Equal values and missing destination
// fields merge cleanly. Precondition: both sidecars agree on the number of
// slice times (missing on both sides counts as equal).
func Merge(source, dest map[string]interface{}, imagingFields map[string]bool) (map[string]interface{}, *errors.CurationError) {
	if nSliceTimes(source) != nSliceTimes(dest) {
		return nil, errors.Newf(errors.NSliceTimesMismatch,
			"source has %d slice times, destination has %d", nSliceTimes(source), nSliceTimes(dest))
	}

	for field := range imagingFields {
		sv, sok := source[field]
		dv, dok := dest[field]
		if !sok || !dok {
			continue
		}
		if !reflect.DeepEqual(sv, dv) {
			return nil, errors.Newf(errors.OverwriteMerge,
				"field %s: destination value would be overwritten (%v != %v)", field, dv, sv)
		}
	}

	merged := make(map[string]interface{}, len(dest)+len(source))
	for k, v := range dest {
		merged[k] = v
	}
	for field := range imagingFields {
		if sv, ok := source[field]; ok {
			merged[field] = sv
		}
	}
	return merged, nil
}

func nSliceTimes(sidecar map[string]interface{}) int {
	if list, ok := sidecar["SliceTiming"].([]interface{}); ok {
		return len(list)
	}
	return 0
}

// EncodeSidecar renders sidecar content in the persisted form: two-space
// indented JSON with sorted keys and a trailing newline.
func EncodeSidecar(sidecar map[string]interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode sidecar: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteSidecarIfChanged writes sidecar content to path only when the encoded
// bytes differ from what is already on disk. Returns whether a write happened.
func WriteSidecarIfChanged(path string, sidecar map[string]interface{}) (bool, error) {
	data, err := EncodeSidecar(sidecar)
	if err != nil {
		return false, err
	}
	if existing, err := os.ReadFile(path); err == nil && string(existing) == string(data) {
		return false, nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write sidecar %s: %w", path, err)
	}
	return true, nil
}

// ReadSidecar loads and decodes a sidecar JSON file
func ReadSidecar(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sidecar map[string]interface{}
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar %s: %w", path, err)
	}
	return sidecar, nil
}
