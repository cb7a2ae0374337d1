// Package acqgroup derives acquisition groups: subjects (or sessions)
// sharing an identical set of (EntitySet, ParamGroup) memberships form one
// group. Group ids are ranked by population, dominant group first, matching
// the ParamGroup ordering discipline.
package acqgroup

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"bidsc/internal/entities"
	"bidsc/internal/tables"
)

// Member is one subject (or subject/session) with its acquisition group
type Member struct {
	ID       string // "sub-01" or "sub-01_ses-02"
	AcqGroup int
}

// GroupInfo describes one acquisition group
type GroupInfo struct {
	AcqGroup       int
	MemberCount    int
	KeyParamGroups []string // the shared membership signature, sorted
}

// Result holds both acquisition-grouping outputs
type Result struct {
	Members []Member
	Groups  []GroupInfo
}

// Derive computes acquisition groups from the files table. At session level
// each subject/session pair is a member; at subject level whole subjects are.
func Derive(files *tables.FilesTable, level entities.Level) *Result {
	keysOf := map[string]map[string]bool{}
	var memberOrder []string
	for _, row := range files.Rows {
		id := memberID(row.FilePath, level)
		if id == "" {
			continue
		}
		if _, ok := keysOf[id]; !ok {
			keysOf[id] = map[string]bool{}
			memberOrder = append(memberOrder, id)
		}
		keysOf[id][row.KeyParamGroup] = true
	}
	sort.Strings(memberOrder)

	// Signature -> provisional group, in first-seen order over sorted members.
	type group struct {
		keys    []string
		members []string
	}
	sigIndex := map[string]int{}
	var groups []group
	for _, id := range memberOrder {
		keys := sortedKeys(keysOf[id])
		sig := strings.Join(keys, ";")
		gi, ok := sigIndex[sig]
		if !ok {
			gi = len(groups)
			sigIndex[sig] = gi
			groups = append(groups, group{keys: keys})
		}
		groups[gi].members = append(groups[gi].members, id)
	}

	// Population-ranked ids, ties keep first-seen order.
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(groups[order[a]].members) > len(groups[order[b]].members)
	})

	result := &Result{}
	rank := make([]int, len(groups))
	for newID, gi := range order {
		rank[gi] = newID + 1
		result.Groups = append(result.Groups, GroupInfo{
			AcqGroup:       newID + 1,
			MemberCount:    len(groups[gi].members),
			KeyParamGroups: groups[gi].keys,
		})
	}
	for _, id := range memberOrder {
		sig := strings.Join(sortedKeys(keysOf[id]), ";")
		result.Members = append(result.Members, Member{ID: id, AcqGroup: rank[sigIndex[sig]]})
	}
	return result
}

// WriteMembers writes the member->group table as tab-delimited text
func (r *Result) WriteMembers(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{"Member", "AcqGroup"}); err != nil {
		return err
	}
	for _, m := range r.Members {
		if err := cw.Write([]string{m.ID, strconv.Itoa(m.AcqGroup)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGroups writes the group-membership summary as tab-delimited text
func (r *Result) WriteGroups(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{"AcqGroup", "MemberCount", "KeyParamGroups"}); err != nil {
		return err
	}
	for _, g := range r.Groups {
		if err := cw.Write([]string{
			strconv.Itoa(g.AcqGroup), strconv.Itoa(g.MemberCount), strings.Join(g.KeyParamGroups, ";"),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// memberID extracts the grouping member from a dataset-relative path
func memberID(path string, level entities.Level) string {
	parts := strings.Split(path, "/")
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "sub-") {
		return ""
	}
	if level == entities.SessionLevel && len(parts) > 1 && strings.HasPrefix(parts[1], "ses-") {
		return parts[0] + "_" + parts[1]
	}
	return parts[0]
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
