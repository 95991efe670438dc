// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Package drift compares the store's declared-applied state against a
// live dump of the private packet-filter table and reports where the
// two disagree.
package drift

import (
	"strconv"
	"strings"

	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/nftadapter"
	"phantomd.dev/bridge/internal/store"
)

const commentPrefix = "phantom-rule-"

// MissingRule is an applied store row whose comment tag was not found
// in the live dump.
type MissingRule struct {
	RuleID int64  `json:"rule_id"`
	Chain  string `json:"chain"`
}

// ExtraRule is a live rule carrying the bridge's comment tag whose id
// has no corresponding applied row in the store.
type ExtraRule struct {
	Chain  string `json:"chain"`
	Handle uint64 `json:"handle"`
	RuleID int64  `json:"rule_id"`
}

// Report is the structured drift result. Routing rules are not dumped
// (no netlink dump parser for the policy-routing family exists here) —
// RoutingRulesApplied simply counts applied rows so callers can still
// see routing had something declared.
type Report struct {
	InSync              bool          `json:"in_sync"`
	MissingInKernel     []MissingRule `json:"missing_in_kernel"`
	ExtraInKernel       []ExtraRule   `json:"extra_in_kernel"`
	RoutingRulesApplied int           `json:"routing_rules_applied"`
}

// Dumper is the adapter capability drift detection needs: a structural
// projection of every live rule in the private table.
type Dumper interface {
	Dump() ([]nftadapter.DumpedRule, error)
}

// Verify dumps the private table, parses each rule's phantom-rule-<id>
// comment, and reconciles the result against the store's applied set.
func Verify(st *store.Store, nft Dumper) (Report, error) {
	dump, err := nft.Dump()
	if err != nil {
		return Report{}, brerr.Wrap(err, brerr.VerifyFailed, "dump private table")
	}

	applied, err := st.AppliedFirewallRules()
	if err != nil {
		return Report{}, brerr.Wrap(err, brerr.DbQuery, "applied firewall rules")
	}

	inKernel := make(map[int64]nftadapter.DumpedRule, len(dump))
	for _, d := range dump {
		id, ok := parseRuleID(d.Comment)
		if !ok {
			continue // base-chain policy rule or an addition the bridge doesn't own
		}
		inKernel[id] = d
	}

	var missing []MissingRule
	declaredIDs := make(map[int64]bool, len(applied))
	for _, r := range applied {
		declaredIDs[r.ID] = true
		if _, ok := inKernel[r.ID]; !ok {
			missing = append(missing, MissingRule{RuleID: r.ID, Chain: r.Chain})
		}
	}

	var extra []ExtraRule
	for id, d := range inKernel {
		if !declaredIDs[id] {
			extra = append(extra, ExtraRule{Chain: d.Chain, Handle: d.Handle, RuleID: id})
		}
	}

	appliedRouting, err := st.AppliedRoutingRules()
	if err != nil {
		return Report{}, brerr.Wrap(err, brerr.DbQuery, "applied routing rules")
	}

	return Report{
		InSync:              len(missing) == 0 && len(extra) == 0,
		MissingInKernel:     missing,
		ExtraInKernel:       extra,
		RoutingRulesApplied: len(appliedRouting),
	}, nil
}

// parseRuleID extracts the numeric id from a "phantom-rule-<id>" tag.
func parseRuleID(comment string) (int64, bool) {
	if !strings.HasPrefix(comment, commentPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(comment, commentPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
