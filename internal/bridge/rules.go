// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package bridge

import (
	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/store"
)

// AddFirewallRule persists a filter rule under group and, if the group
// is enabled and the bridge is started, applies it immediately.
func (b *Bridge) AddFirewallRule(group string, r store.FirewallRule) (int64, error) {
	var id int64
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		g, err := b.store.GetRuleGroup(group)
		if err != nil {
			return brerr.Wrap(err, brerr.GroupNotFound, "get rule group "+group)
		}
		r.GroupID = g.ID
		id, err = b.store.InsertFirewallRule(r)
		if err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "insert firewall rule")
		}

		if b.state == StateStarted && g.Enabled {
			r.ID = id
			handle, err := b.nft.ApplyRule(firewallRuleSpec(r))
			if err != nil {
				b.lastError = err.Error()
				return nil
			}
			if err := b.store.UpdateFwRuleApplied(id, true, int64(handle)); err != nil {
				b.lastError = err.Error()
			}
		}
		return nil
	})
	return id, err
}

// RemoveFirewallRule removes an applied rule from the kernel (if live)
// and deletes its store row.
func (b *Bridge) RemoveFirewallRule(ruleID int64, chain string, applied bool, handle int64) error {
	return b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		if b.state == StateStarted && applied {
			b.removeFirewallRuleFromKernel(ruleID, chain, handle)
		}
		if err := b.store.DeleteFirewallRule(ruleID); err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "delete firewall rule")
		}
		return nil
	})
}

// ListFirewallRules returns every filter rule owned by groupID.
func (b *Bridge) ListFirewallRules(groupID int64) ([]store.FirewallRule, error) {
	var rules []store.FirewallRule
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		var err error
		rules, err = b.store.FirewallRulesForGroup(groupID)
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "list firewall rules")
		}
		return nil
	})
	return rules, err
}

// AddRoutingRule persists a routing rule under group and, if the group
// is enabled and the bridge is started, applies it immediately.
func (b *Bridge) AddRoutingRule(group string, r store.RoutingRule) (int64, error) {
	var id int64
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		g, err := b.store.GetRuleGroup(group)
		if err != nil {
			return brerr.Wrap(err, brerr.GroupNotFound, "get rule group "+group)
		}
		r.GroupID = g.ID
		id, err = b.store.InsertRoutingRule(r)
		if err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "insert routing rule")
		}

		if b.state == StateStarted && g.Enabled {
			if err := applyRoutingRule(r); err != nil {
				b.lastError = err.Error()
				return nil
			}
			if err := b.store.UpdateRtRuleApplied(id, true); err != nil {
				b.lastError = err.Error()
			}
		}
		return nil
	})
	return id, err
}

// RemoveRoutingRule removes a rule from the kernel (best-effort, if
// live) and deletes its store row.
func (b *Bridge) RemoveRoutingRule(r store.RoutingRule) error {
	return b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		if b.state == StateStarted && r.Applied {
			if err := removeRoutingRule(r); err != nil {
				b.lastError = err.Error()
			}
		}
		if err := b.store.DeleteRoutingRule(r.ID); err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "delete routing rule")
		}
		return nil
	})
}

// AllFirewallRules returns every filter rule across every group,
// regardless of applied state.
func (b *Bridge) AllFirewallRules() ([]store.FirewallRule, error) {
	var rules []store.FirewallRule
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		var err error
		rules, err = b.store.AllFirewallRules()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "all firewall rules")
		}
		return nil
	})
	return rules, err
}

// AllRoutingRules returns every routing rule across every group,
// regardless of applied state.
func (b *Bridge) AllRoutingRules() ([]store.RoutingRule, error) {
	var rules []store.RoutingRule
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		var err error
		rules, err = b.store.AllRoutingRules()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "all routing rules")
		}
		return nil
	})
	return rules, err
}

// ListRoutingRules returns every routing rule owned by groupID.
func (b *Bridge) ListRoutingRules(groupID int64) ([]store.RoutingRule, error) {
	var rules []store.RoutingRule
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		var err error
		rules, err = b.store.RoutingRulesForGroup(groupID)
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "list routing rules")
		}
		return nil
	})
	return rules, err
}
