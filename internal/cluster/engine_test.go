package cluster

import (
	"reflect"
	"testing"

	"bidsc/internal/grouping"
	"bidsc/internal/metadata"
	"bidsc/internal/tables"
)

func anatRecord(path string, fields map[string]tables.Value) metadata.Record {
	return metadata.Record{
		Path:      path,
		EntitySet: "datatype-anat_suffix-T1w",
		Modality:  "anat",
		Fields:    fields,
	}
}

func sliceTimingConfig(tolerance float64) *grouping.Config {
	prec := 3
	tol := tolerance
	return &grouping.Config{
		SidecarParams: map[string]map[string]grouping.FieldRule{
			"func": {
				"SliceTiming": {Precision: &prec, Tolerance: &tol, Expand: true},
			},
		},
	}
}

func timingRecord(path string, times []float64) metadata.Record {
	fields := map[string]tables.Value{}
	for i, v := range times {
		fields[metadata.ExpandedColumn("SliceTiming", i)] = tables.Number(v)
	}
	return metadata.Record{
		Path:      path,
		EntitySet: "datatype-func_suffix-bold_task-rest",
		Modality:  "func",
		Fields:    fields,
	}
}

func TestGroupRecordsEmpty(t *testing.T) {
	result := GroupRecords(nil, grouping.Default())
	if len(result.Groups) != 0 || len(result.ParamGroupOf) != 0 {
		t.Errorf("Expected empty result for no records, got %+v", result)
	}
}

func TestGroupRecordsExactSplit(t *testing.T) {
	// Five scans: one with a longer echo time, one with FlipAngle absent.
	records := []metadata.Record{
		anatRecord("sub-01/anat/sub-01_T1w.nii.gz", map[string]tables.Value{
			"FlipAngle": tables.Number(90), "EchoTime": tables.Number(0.03),
		}),
		anatRecord("sub-02/anat/sub-02_T1w.nii.gz", map[string]tables.Value{
			"FlipAngle": tables.Number(90), "EchoTime": tables.Number(0.03),
		}),
		anatRecord("sub-03/anat/sub-03_T1w.nii.gz", map[string]tables.Value{
			"FlipAngle": tables.Number(90), "EchoTime": tables.Number(0.07),
		}),
		anatRecord("sub-04/anat/sub-04_T1w.nii.gz", map[string]tables.Value{
			"EchoTime": tables.Number(0.03),
		}),
		anatRecord("sub-05/anat/sub-05_T1w.nii.gz", map[string]tables.Value{
			"FlipAngle": tables.Number(90), "EchoTime": tables.Number(0.03),
		}),
	}

	result := GroupRecords(records, grouping.Default())

	if len(result.Groups) != 3 {
		t.Fatalf("Expected 3 groups, got %d", len(result.Groups))
	}
	if result.Groups[0].ParamGroup != 1 || result.Groups[0].Counts != 3 {
		t.Errorf("Dominant group = (pg %d, counts %d), want (1, 3)",
			result.Groups[0].ParamGroup, result.Groups[0].Counts)
	}
	if result.Groups[1].Counts != 1 || result.Groups[2].Counts != 1 {
		t.Errorf("Minority counts = (%d, %d), want (1, 1)",
			result.Groups[1].Counts, result.Groups[2].Counts)
	}
	// Ties in population keep first-appearance order: the 0.07 echo record
	// appears before the missing-FlipAngle record.
	want := []int{1, 1, 2, 3, 1}
	if !reflect.DeepEqual(result.ParamGroupOf, want) {
		t.Errorf("ParamGroupOf = %v, want %v", result.ParamGroupOf, want)
	}
	if result.Groups[0].Modality != "anat" {
		t.Errorf("Modality = %q, want %q", result.Groups[0].Modality, "anat")
	}
}

func TestGroupRecordsMissingEqualsMissing(t *testing.T) {
	records := []metadata.Record{
		anatRecord("a", map[string]tables.Value{"EchoTime": tables.Number(0.03)}),
		anatRecord("b", map[string]tables.Value{"EchoTime": tables.Number(0.03)}),
	}
	result := GroupRecords(records, grouping.Default())
	if len(result.Groups) != 1 {
		t.Fatalf("Expected records with identically missing fields to share a group, got %d groups", len(result.Groups))
	}
	if result.Groups[0].Counts != 2 {
		t.Errorf("Counts = %d, want 2", result.Groups[0].Counts)
	}
}

func TestGroupRecordsRounding(t *testing.T) {
	// EchoTime has precision 6; these differ only past the sixth decimal.
	records := []metadata.Record{
		anatRecord("a", map[string]tables.Value{"EchoTime": tables.Number(0.0300000004)}),
		anatRecord("b", map[string]tables.Value{"EchoTime": tables.Number(0.03)}),
	}
	result := GroupRecords(records, grouping.Default())
	if len(result.Groups) != 1 {
		t.Fatalf("Expected rounding to unify near values, got %d groups", len(result.Groups))
	}
	if got := result.Groups[0].Params["EchoTime"].Canon(); got != "0.03" {
		t.Errorf("Stored EchoTime = %q, want rounded %q", got, "0.03")
	}
}

func TestGroupRecordsToleranceClustering(t *testing.T) {
	tol := 0.001
	prec := 6
	cfg := &grouping.Config{
		SidecarParams: map[string]map[string]grouping.FieldRule{
			"anat": {"EchoTime": {Precision: &prec, Tolerance: &tol}},
		},
	}
	records := []metadata.Record{
		anatRecord("a", map[string]tables.Value{"EchoTime": tables.Number(0.0300)}),
		anatRecord("b", map[string]tables.Value{"EchoTime": tables.Number(0.0315)}),
		anatRecord("c", map[string]tables.Value{"EchoTime": tables.Number(0.0302)}),
	}
	result := GroupRecords(records, cfg)
	// 0.0300 and 0.0302 are within tolerance; 0.0315 stays out because its
	// distance to the far member exceeds the threshold.
	if len(result.Groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(result.Groups))
	}
	if result.ParamGroupOf[0] != result.ParamGroupOf[2] {
		t.Error("Expected records a and c to share a group")
	}
	if result.ParamGroupOf[0] == result.ParamGroupOf[1] {
		t.Error("Expected record b in its own group")
	}
}

func TestGroupRecordsSentinelDisplacement(t *testing.T) {
	tol := 1.0
	cfg := &grouping.Config{
		SidecarParams: map[string]map[string]grouping.FieldRule{
			"anat": {"X": {Tolerance: &tol}},
		},
	}
	// A real value near the default missing sentinel must not absorb the
	// missing record.
	records := []metadata.Record{
		anatRecord("a", map[string]tables.Value{"X": tables.Number(-999.5)}),
		anatRecord("b", map[string]tables.Value{}),
	}
	result := GroupRecords(records, cfg)
	if len(result.Groups) != 2 {
		t.Fatalf("Expected sentinel displacement to keep missing separate, got %d groups", len(result.Groups))
	}
}

func TestGroupRecordsSliceTimingSeparates(t *testing.T) {
	cfg := sliceTimingConfig(0.01)
	records := []metadata.Record{
		timingRecord("a", []float64{0, 1, 2}),
		timingRecord("b", []float64{0, 1, 1.9}),
	}
	result := GroupRecords(records, cfg)
	if len(result.Groups) != 2 {
		t.Fatalf("Expected 2 groups at tolerance 0.01, got %d", len(result.Groups))
	}
}

func TestGroupRecordsSliceTimingMergesAtLooseTolerance(t *testing.T) {
	cfg := sliceTimingConfig(0.5)
	records := []metadata.Record{
		timingRecord("a", []float64{0, 1, 2}),
		timingRecord("b", []float64{0, 1, 1.9}),
	}
	result := GroupRecords(records, cfg)
	if len(result.Groups) != 1 {
		t.Fatalf("Expected 1 group at tolerance 0.5, got %d", len(result.Groups))
	}
	if result.Groups[0].Counts != 2 {
		t.Errorf("Counts = %d, want 2", result.Groups[0].Counts)
	}
}

func TestGroupRecordsSliceTimingLengthBuckets(t *testing.T) {
	// Different list lengths never share a cluster, regardless of tolerance.
	cfg := sliceTimingConfig(100)
	records := []metadata.Record{
		timingRecord("a", []float64{0, 1, 2}),
		timingRecord("b", []float64{0, 1}),
		timingRecord("c", []float64{0, 1, 2}),
	}
	result := GroupRecords(records, cfg)
	if len(result.Groups) != 2 {
		t.Fatalf("Expected length buckets to separate groups, got %d", len(result.Groups))
	}
	if result.ParamGroupOf[0] != result.ParamGroupOf[2] {
		t.Error("Expected equal-length identical timings to share a group")
	}
	if result.ParamGroupOf[0] == result.ParamGroupOf[1] {
		t.Error("Expected different lengths in different groups")
	}
}

func TestGroupRecordsDeterministic(t *testing.T) {
	records := []metadata.Record{
		anatRecord("a", map[string]tables.Value{"FlipAngle": tables.Number(90)}),
		anatRecord("b", map[string]tables.Value{"FlipAngle": tables.Number(70)}),
		anatRecord("c", map[string]tables.Value{"FlipAngle": tables.Number(90)}),
	}
	first := GroupRecords(records, grouping.Default())
	second := GroupRecords(records, grouping.Default())
	if !reflect.DeepEqual(first.ParamGroupOf, second.ParamGroupOf) {
		t.Errorf("Expected identical assignments, got %v and %v",
			first.ParamGroupOf, second.ParamGroupOf)
	}
}

func TestGroupRecordsDominanceInvariant(t *testing.T) {
	records := []metadata.Record{
		anatRecord("a", map[string]tables.Value{"FlipAngle": tables.Number(70)}),
		anatRecord("b", map[string]tables.Value{"FlipAngle": tables.Number(90)}),
		anatRecord("c", map[string]tables.Value{"FlipAngle": tables.Number(90)}),
	}
	result := GroupRecords(records, grouping.Default())
	for _, g := range result.Groups {
		if g.Counts > result.Groups[0].Counts {
			t.Errorf("Group %d has Counts %d exceeding group 1's %d",
				g.ParamGroup, g.Counts, result.Groups[0].Counts)
		}
	}
	if result.Groups[0].ParamGroup != 1 {
		t.Errorf("First group id = %d, want 1", result.Groups[0].ParamGroup)
	}
	// The later-seen but larger FlipAngle-90 group takes id 1.
	if got := result.Groups[0].Params["FlipAngle"].Canon(); got != "90" {
		t.Errorf("Dominant FlipAngle = %q, want %q", got, "90")
	}
}
