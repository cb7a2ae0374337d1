// Package variants synthesizes human-readable rename suggestions for
// non-dominant parameter groups by comparing them to the dominant group of
// their entity set.
package variants

import (
	"fmt"
	"sort"
	"strings"

	"bidsc/internal/entities"
	"bidsc/internal/grouping"
	"bidsc/internal/tables"
)

// Token is the literal marker embedded in suggested acquisition labels.
// Entity sets that already contain it are left untouched.
const Token = "VARIANT"

// SuggestRenames fills RenameEntitySet on every non-dominant summary row
// whose configured columns differ from the dominant group's. Groups that
// differ only in un-tracked fields get the "Other" label. When several
// variant groups share an identical difference-signature, a 1-based counter
// is appended in ascending ParamGroup order.
func SuggestRenames(t *tables.SummaryTable, cfg *grouping.Config) error {
	bySet := map[string][]int{}
	for i, r := range t.Rows {
		bySet[r.EntitySet] = append(bySet[r.EntitySet], i)
	}

	for set, idxs := range bySet {
		if strings.Contains(set, Token) {
			continue // already renamed once
		}

		var dominant *tables.SummaryRow
		for _, i := range idxs {
			if t.Rows[i].ParamGroup == 1 {
				dominant = &t.Rows[i]
				break
			}
		}
		if dominant == nil {
			continue
		}

		// Variant rows in ascending ParamGroup order; the duplicate
		// signature counter depends on this ordering.
		variants := make([]int, 0, len(idxs))
		for _, i := range idxs {
			if t.Rows[i].ParamGroup != 1 {
				variants = append(variants, i)
			}
		}
		sort.SliceStable(variants, func(a, b int) bool {
			return t.Rows[variants[a]].ParamGroup < t.Rows[variants[b]].ParamGroup
		})

		signatures := make([]string, len(variants))
		sigCount := map[string]int{}
		for k, i := range variants {
			sig := signature(&t.Rows[i], dominant, cfg)
			signatures[k] = sig
			sigCount[sig]++
		}

		sigSeen := map[string]int{}
		for k, i := range variants {
			sig := signatures[k]
			label := Token + sig
			if sigCount[sig] > 1 {
				sigSeen[sig]++
				label = fmt.Sprintf("%s%d", label, sigSeen[sig])
			}
			renamed, err := insertAcquisitionLabel(set, label)
			if err != nil {
				return err
			}
			t.Rows[i].RenameEntitySet = renamed
		}
	}
	return nil
}

// signature concatenates the tokens of every configured column whose value
// differs from the dominant group's, comparing canonical string forms so
// missing values are comparable. No differing column yields "Other".
func signature(row, dominant *tables.SummaryRow, cfg *grouping.Config) string {
	var b strings.Builder
	for _, col := range cfg.VariantColumns(row.Modality) {
		if row.Params[col].Equal(dominant.Params[col]) {
			continue
		}
		b.WriteString(columnToken(col, row.Params[col]))
	}
	if b.Len() == 0 {
		return "Other"
	}
	return b.String()
}

// columnToken names one differing column in a variant label. The two boolean
// relational columns use complement tokens describing the variant's state.
func columnToken(col string, v tables.Value) string {
	switch col {
	case grouping.HasFieldmapColumn:
		if b, ok := v.BoolVal(); ok && b {
			return "HasFmap"
		}
		return "NoFmap"
	case grouping.UsedAsFieldmapColumn:
		if b, ok := v.BoolVal(); ok && b {
			return "IsUsed"
		}
		return "Unused"
	}
	return col
}

// insertAcquisitionLabel appends the label to an existing acquisition entity
// or introduces one, then rebuilds the entity-set string in sorted order.
func insertAcquisitionLabel(set, label string) (string, error) {
	pairs, err := entities.ParseSetString(set)
	if err != nil {
		return "", err
	}
	if acq, ok := pairs["acquisition"]; ok {
		pairs["acquisition"] = acq + label
	} else {
		pairs["acquisition"] = label
	}
	return entities.JoinSet(pairs), nil
}
