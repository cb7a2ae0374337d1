package acqgroup

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"bidsc/internal/entities"
	"bidsc/internal/tables"
)

func fileRow(path, key string) tables.FileRow {
	set, _, _ := strings.Cut(key, "__")
	return tables.FileRow{KeyParamGroup: key, EntitySet: set, FilePath: path}
}

func TestDerive(t *testing.T) {
	// sub-01 and sub-03 share the same memberships; sub-02 misses the bold
	// scan and gets its own group.
	files := &tables.FilesTable{Rows: []tables.FileRow{
		fileRow("sub-01/anat/sub-01_T1w.nii.gz", "datatype-anat_suffix-T1w__1"),
		fileRow("sub-01/func/sub-01_task-rest_bold.nii.gz", "datatype-func_suffix-bold_task-rest__1"),
		fileRow("sub-02/anat/sub-02_T1w.nii.gz", "datatype-anat_suffix-T1w__1"),
		fileRow("sub-03/anat/sub-03_T1w.nii.gz", "datatype-anat_suffix-T1w__1"),
		fileRow("sub-03/func/sub-03_task-rest_bold.nii.gz", "datatype-func_suffix-bold_task-rest__1"),
	}}

	result := Derive(files, entities.SubjectLevel)

	if len(result.Groups) != 2 {
		t.Fatalf("Expected 2 acquisition groups, got %d", len(result.Groups))
	}
	// The two-member group outranks the singleton.
	if result.Groups[0].AcqGroup != 1 || result.Groups[0].MemberCount != 2 {
		t.Errorf("Group 1 = %+v, want 2 members", result.Groups[0])
	}
	wantKeys := []string{"datatype-anat_suffix-T1w__1", "datatype-func_suffix-bold_task-rest__1"}
	if !reflect.DeepEqual(result.Groups[0].KeyParamGroups, wantKeys) {
		t.Errorf("Group 1 keys = %v, want %v", result.Groups[0].KeyParamGroups, wantKeys)
	}

	byID := map[string]int{}
	for _, m := range result.Members {
		byID[m.ID] = m.AcqGroup
	}
	want := map[string]int{"sub-01": 1, "sub-02": 2, "sub-03": 1}
	if !reflect.DeepEqual(byID, want) {
		t.Errorf("Members = %v, want %v", byID, want)
	}
}

func TestDeriveSessionLevel(t *testing.T) {
	files := &tables.FilesTable{Rows: []tables.FileRow{
		fileRow("sub-01/ses-01/anat/sub-01_ses-01_T1w.nii.gz", "datatype-anat_session-01_suffix-T1w__1"),
		fileRow("sub-01/ses-02/anat/sub-01_ses-02_T1w.nii.gz", "datatype-anat_session-02_suffix-T1w__1"),
	}}

	result := Derive(files, entities.SessionLevel)

	ids := make([]string, len(result.Members))
	for i, m := range result.Members {
		ids[i] = m.ID
	}
	want := []string{"sub-01_ses-01", "sub-01_ses-02"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Member ids = %v, want %v", ids, want)
	}
	// Different session entity sets give different signatures.
	if result.Members[0].AcqGroup == result.Members[1].AcqGroup {
		t.Error("Expected sessions with differing memberships in different groups")
	}
}

func TestDeriveDeterministicTies(t *testing.T) {
	// Two singleton groups: ids follow sorted member order.
	files := &tables.FilesTable{Rows: []tables.FileRow{
		fileRow("sub-02/anat/sub-02_T1w.nii.gz", "b__1"),
		fileRow("sub-01/anat/sub-01_T1w.nii.gz", "a__1"),
	}}
	result := Derive(files, entities.SubjectLevel)
	byID := map[string]int{}
	for _, m := range result.Members {
		byID[m.ID] = m.AcqGroup
	}
	if byID["sub-01"] != 1 || byID["sub-02"] != 2 {
		t.Errorf("Tie order = %v, want sub-01 first", byID)
	}
}

func TestWriteTables(t *testing.T) {
	files := &tables.FilesTable{Rows: []tables.FileRow{
		fileRow("sub-01/anat/sub-01_T1w.nii.gz", "datatype-anat_suffix-T1w__1"),
	}}
	result := Derive(files, entities.SubjectLevel)

	var members bytes.Buffer
	if err := result.WriteMembers(&members); err != nil {
		t.Fatalf("WriteMembers failed: %v", err)
	}
	wantMembers := "Member\tAcqGroup\nsub-01\t1\n"
	if members.String() != wantMembers {
		t.Errorf("WriteMembers = %q, want %q", members.String(), wantMembers)
	}

	var groups bytes.Buffer
	if err := result.WriteGroups(&groups); err != nil {
		t.Fatalf("WriteGroups failed: %v", err)
	}
	wantGroups := "AcqGroup\tMemberCount\tKeyParamGroups\n1\t1\tdatatype-anat_suffix-T1w__1\n"
	if groups.String() != wantGroups {
		t.Errorf("WriteGroups = %q, want %q", groups.String(), wantGroups)
	}
}

func TestDeriveIgnoresNonSubjectPaths(t *testing.T) {
	files := &tables.FilesTable{Rows: []tables.FileRow{
		fileRow("sub-01/anat/sub-01_T1w.nii.gz", "datatype-anat_suffix-T1w__1"),
		fileRow("extra/thing.nii.gz", "x__1"),
	}}
	result := Derive(files, entities.SubjectLevel)
	if len(result.Members) != 1 {
		t.Errorf("Expected 1 member, got %d", len(result.Members))
	}
}
