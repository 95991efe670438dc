// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package bridge

import (
	"fmt"

	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/nftadapter"
	"phantomd.dev/bridge/internal/rtnetlink"
	"phantomd.dev/bridge/internal/store"
)

// Start flushes the private table for a clean slate, then reconciles
// every enabled group into the kernel in ascending (priority, name)
// order. Per-rule failures are soft: they are recorded in LastError and
// iteration continues — the transition to Started completes regardless.
func (b *Bridge) Start() error {
	return b.withLock(func() error {
		switch b.state {
		case StateStarted:
			return brerr.New(brerr.AlreadyStarted, "bridge is already started")
		case StateInitialized, StateStopped:
			// fall through
		default:
			return brerr.Errorf(brerr.InvalidState, "cannot start from state %q", b.state)
		}

		if err := b.nft.FlushTable(); err != nil {
			return err
		}

		groups, err := b.store.EnabledGroups()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "list enabled groups")
		}

		for _, g := range groups {
			b.applyGroupRulesLocked(g)
		}

		b.state = StateStarted
		if err := b.store.SetState(string(StateStarted)); err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "persist started state")
		}
		b.log.Info("bridge started", "groups", len(groups))
		return nil
	})
}

// Stop flushes the private filter table in one kernel operation, then
// best-effort removes every applied routing rule. All applied flags are
// cleared regardless of removal outcome — the store's post-condition
// (nothing applied) takes precedence over kernel-removal errors.
func (b *Bridge) Stop() error {
	return b.withLock(func() error {
		if b.state != StateStarted {
			return brerr.Errorf(brerr.NotStarted, "cannot stop from state %q", b.state)
		}
		return b.stopLocked()
	})
}

func (b *Bridge) stopLocked() error {
	if err := b.nft.FlushTable(); err != nil {
		b.lastError = err.Error()
		b.log.Warn("flush table during stop failed", "error", err)
	}

	applied, err := b.store.AppliedRoutingRules()
	if err != nil {
		return brerr.Wrap(err, brerr.DbQuery, "list applied routing rules")
	}
	for _, r := range applied {
		if err := removeRoutingRule(r); err != nil {
			b.lastError = err.Error()
			b.log.Warn("routing rule removal failed", "rule_id", r.ID, "error", err)
		}
	}

	if err := b.store.ClearFwAppliedState(); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "clear firewall applied state")
	}
	if err := b.store.ClearRtAppliedState(); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "clear routing applied state")
	}

	b.state = StateStopped
	if err := b.store.SetState(string(StateStopped)); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "persist stopped state")
	}
	b.log.Info("bridge stopped")
	return nil
}

// applyGroupRulesLocked applies every filter and routing rule owned by
// g, in position/insertion order, recording per-rule failures in
// b.lastError without aborting the group.
func (b *Bridge) applyGroupRulesLocked(g store.RuleGroup) {
	fwRules, err := b.store.FirewallRulesForGroup(g.ID)
	if err != nil {
		b.lastError = err.Error()
		return
	}
	for _, r := range fwRules {
		handle, err := b.nft.ApplyRule(firewallRuleSpec(r))
		if err != nil {
			b.lastError = fmt.Sprintf("group %s rule %d: %v", g.Name, r.ID, err)
			b.log.Warn("apply firewall rule failed", "group", g.Name, "rule_id", r.ID, "error", err)
			continue
		}
		if err := b.store.UpdateFwRuleApplied(r.ID, true, int64(handle)); err != nil {
			b.lastError = err.Error()
		}
	}

	rtRules, err := b.store.RoutingRulesForGroup(g.ID)
	if err != nil {
		b.lastError = err.Error()
		return
	}
	for _, r := range rtRules {
		if err := applyRoutingRule(r); err != nil {
			b.lastError = fmt.Sprintf("group %s routing rule %d: %v", g.Name, r.ID, err)
			b.log.Warn("apply routing rule failed", "group", g.Name, "rule_id", r.ID, "error", err)
			continue
		}
		if err := b.store.UpdateRtRuleApplied(r.ID, true); err != nil {
			b.lastError = err.Error()
		}
	}
}

// removeGroupRulesLocked removes every applied rule owned by g from the
// kernel (best-effort) and clears their applied flags.
func (b *Bridge) removeGroupRulesLocked(g store.RuleGroup) {
	fwRules, err := b.store.FirewallRulesForGroup(g.ID)
	if err != nil {
		b.lastError = err.Error()
		return
	}
	for _, r := range fwRules {
		if !r.Applied {
			continue
		}
		b.removeFirewallRuleFromKernel(r.ID, r.Chain, r.NftHandle)
		if err := b.store.UpdateFwRuleApplied(r.ID, false, 0); err != nil {
			b.lastError = err.Error()
		}
	}

	rtRules, err := b.store.RoutingRulesForGroup(g.ID)
	if err != nil {
		b.lastError = err.Error()
		return
	}
	for _, r := range rtRules {
		if !r.Applied {
			continue
		}
		if err := removeRoutingRule(r); err != nil {
			b.lastError = err.Error()
			b.log.Warn("remove routing rule failed", "rule_id", r.ID, "error", err)
		}
		if err := b.store.UpdateRtRuleApplied(r.ID, false); err != nil {
			b.lastError = err.Error()
		}
	}
}

// firewallRuleSpec projects a stored filter-rule row onto the adapter's
// input shape. The kernel comment is always the synthesized
// "phantom-rule-<id>" tag — drift detection depends on this exact form
// regardless of whatever free-text the row's own comment column holds.
func firewallRuleSpec(r store.FirewallRule) nftadapter.RuleSpec {
	return nftadapter.RuleSpec{
		Chain:       r.Chain,
		Action:      r.Action,
		Family:      r.Family,
		Proto:       r.Proto,
		DPort:       r.DPort,
		SPort:       r.SPort,
		Source:      r.Source,
		Destination: r.Destination,
		InIface:     r.InIface,
		OutIface:    r.OutIface,
		StateMatch:  r.StateMatch,
		Comment:     phantomRuleComment(r.ID),
	}
}

// phantomRuleComment is the kernel-tag format drift detection parses.
func phantomRuleComment(ruleID int64) string {
	return fmt.Sprintf("phantom-rule-%d", ruleID)
}

// removeFirewallRuleFromKernel deletes a filter rule from the live
// table. When handle is 0 — the row's stored nft_handle was never
// captured, or has been lost — it recovers the live handle by tag
// before giving up, rather than issuing a delete-by-handle(0) that
// would silently remove nothing.
func (b *Bridge) removeFirewallRuleFromKernel(ruleID int64, chain string, handle int64) {
	h := uint64(handle)
	if h == 0 {
		found, ok, err := b.nft.FindHandleByStructuralMatch(nftadapter.RuleSpec{
			Chain:   chain,
			Comment: phantomRuleComment(ruleID),
		})
		if err != nil {
			b.lastError = err.Error()
			return
		}
		if !ok {
			b.log.Warn("rule not found in kernel on removal, nothing to delete", "rule_id", ruleID)
			return
		}
		h = found
	}
	if err := b.nft.RemoveRuleByHandle(chain, h); err != nil {
		b.lastError = err.Error()
		b.log.Warn("remove firewall rule failed", "rule_id", ruleID, "error", err)
	}
}

// Routing-netlink entry points, indirected through variables so tests
// can substitute fakes instead of opening a real netlink socket.
var (
	policyAddFn    = rtnetlink.PolicyAdd
	policyDeleteFn = rtnetlink.PolicyDelete
	routeAddFn     = rtnetlink.RouteAdd
	routeDeleteFn  = rtnetlink.RouteDelete
	ensureTableFn  = rtnetlink.EnsureTable
)

// applyRoutingRule dispatches a stored routing-rule row to the adapter
// operation matching its rule_type.
func applyRoutingRule(r store.RoutingRule) error {
	switch r.RuleType {
	case "policy":
		return policyAddFn(r.FromNetwork, r.ToNetwork, r.TableName, uint32(r.Priority))
	case "route":
		return routeAddFn(r.Destination, r.Device, r.TableName)
	case "table":
		return ensureTableFn(uint32(r.TableID), r.TableName)
	default:
		return brerr.Errorf(brerr.InvalidParam, "unknown routing rule type %q", r.RuleType)
	}
}

// removeRoutingRule is the inverse of applyRoutingRule. Table entries
// are never removed (rtnetlink.EnsureTable has no delete counterpart); a
// "table" row is treated as always successfully "removed".
func removeRoutingRule(r store.RoutingRule) error {
	switch r.RuleType {
	case "policy":
		return policyDeleteFn(r.FromNetwork, r.ToNetwork, r.TableName, uint32(r.Priority))
	case "route":
		return routeDeleteFn(r.Destination, r.Device, r.TableName)
	case "table":
		return nil
	default:
		return brerr.Errorf(brerr.InvalidParam, "unknown routing rule type %q", r.RuleType)
	}
}
