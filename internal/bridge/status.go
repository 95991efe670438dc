// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package bridge

import (
	brerr "phantomd.dev/bridge/internal/errors"
)

// RuleCounts reports declared vs. applied counts for one rule table.
//
// Total mirrors the legacy ABI field, which historically counted only
// applied rows — kept as-is for callers pinned to that contract.
// DeclaredTotal is the real row count regardless of applied state; see
// the "bulk status counters" design note for why both exist.
type RuleCounts struct {
	Total         int `json:"total"`
	Applied       int `json:"applied"`
	DeclaredTotal int `json:"declared_total"`
}

// Status is the bridge's JSON status payload.
type Status struct {
	State            State      `json:"state"`
	LastError        string     `json:"last_error,omitempty"`
	IPForwardEnabled bool       `json:"ip_forward_enabled"`
	IPv6Blocked      bool       `json:"ipv6_blocked"`
	KillSwitchActive bool       `json:"kill_switch_active"`
	Groups           int        `json:"groups"`
	FirewallRules    RuleCounts `json:"firewall_rules"`
	RoutingRules     RuleCounts `json:"routing_rules"`
}

// GetStatus snapshots the bridge's current state, config flags, and
// rule counts. Valid from any state; fields needing the store default
// to zero when uninitialized.
func (b *Bridge) GetStatus() (Status, error) {
	var status Status
	err := b.withLock(func() error {
		status.State = b.state
		status.LastError = b.lastError
		if b.store == nil {
			return nil
		}

		cfg, err := b.store.GetConfig()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "get config")
		}
		status.IPForwardEnabled = cfg.IPForwardEnabled
		status.IPv6Blocked = cfg.IPv6Blocked
		status.KillSwitchActive = cfg.KillSwitchActive

		groups, err := b.store.ListRuleGroups()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "list rule groups")
		}
		status.Groups = len(groups)

		allFw, err := b.store.AllFirewallRules()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "all firewall rules")
		}
		appliedFw, err := b.store.AppliedFirewallRules()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "applied firewall rules")
		}
		status.FirewallRules = RuleCounts{
			Total:         len(appliedFw),
			Applied:       len(appliedFw),
			DeclaredTotal: len(allFw),
		}

		allRt, err := b.store.AllRoutingRules()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "all routing rules")
		}
		appliedRt, err := b.store.AppliedRoutingRules()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "applied routing rules")
		}
		status.RoutingRules = RuleCounts{
			Total:         len(appliedRt),
			Applied:       len(appliedRt),
			DeclaredTotal: len(allRt),
		}
		return nil
	})
	return status, err
}
