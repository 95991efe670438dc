// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package presets materializes named rule groups for common firewall
// intents (VPN, multihop, kill-switch, DNS protection, IPv6 block) as
// plain store rows — pure data constructors over the store façade, no
// kernel interaction of their own.
package presets

import (
	"encoding/json"
	"fmt"

	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/store"
)

func metadataJSON(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// VPN creates an `input/accept udp <wg_port>`, a forward pair, and a
// postrouting masquerade — exactly four filter rules at priority 100.
func VPN(st *store.Store, name, wgIface string, wgPort int32, wgSubnet, outIface string) (store.RuleGroup, error) {
	meta := metadataJSON(map[string]any{
		"preset": "vpn", "wg_iface": wgIface, "wg_port": wgPort,
		"wg_subnet": wgSubnet, "out_iface": outIface,
	})
	g, err := st.CreateRuleGroup(name, "vpn", 100, meta)
	if err != nil {
		return g, brerr.Wrap(err, brerr.PresetFailed, "create vpn group")
	}

	rules := []store.FirewallRule{
		{GroupID: g.ID, Chain: "input", Action: "accept", Family: 2, Proto: "udp", DPort: wgPort, Comment: "wg-listen-port", Position: 0},
		{GroupID: g.ID, Chain: "forward", Action: "accept", Family: 2, InIface: wgIface, OutIface: outIface, Comment: "wg-forward-out", Position: 1},
		{GroupID: g.ID, Chain: "forward", Action: "accept", Family: 2, InIface: outIface, OutIface: wgIface, StateMatch: "established,related", Comment: "wg-forward-return", Position: 2},
		{GroupID: g.ID, Chain: "postrouting", Action: "masquerade", Family: 2, Source: wgSubnet, OutIface: outIface, Comment: "wg-nat", Position: 3},
	}
	if err := insertFirewallRules(st, rules); err != nil {
		return g, err
	}
	return g, nil
}

// Multihop creates a routing table entry, a policy rule routing subnet
// traffic through it, a default route out the hop interface, an
// optional fwmark policy, and a forward pair — at priority 80.
func Multihop(st *store.Store, name, inIface, outIface string, fwmark int32, tableID int32, subnet string) (store.RuleGroup, error) {
	meta := metadataJSON(map[string]any{
		"preset": "multihop", "in_iface": inIface, "out_iface": outIface,
		"fwmark": fwmark, "table_id": tableID, "subnet": subnet,
	})
	g, err := st.CreateRuleGroup(name, "multihop", 80, meta)
	if err != nil {
		return g, brerr.Wrap(err, brerr.PresetFailed, "create multihop group")
	}

	rtRules := []store.RoutingRule{
		{GroupID: g.ID, RuleType: "table", TableName: name, TableID: tableID},
		{GroupID: g.ID, RuleType: "policy", FromNetwork: subnet, TableName: name, TableID: tableID, Priority: 100},
		{GroupID: g.ID, RuleType: "route", TableName: name, TableID: tableID, Destination: "default", Device: outIface},
	}
	if fwmark > 0 {
		rtRules = append(rtRules, store.RoutingRule{
			GroupID: g.ID, RuleType: "policy", TableName: name, TableID: tableID, Priority: 200, FwMark: fwmark,
		})
	}
	if err := insertRoutingRules(st, rtRules); err != nil {
		return g, err
	}

	fwRules := []store.FirewallRule{
		{GroupID: g.ID, Chain: "forward", Action: "accept", Family: 2, InIface: inIface, OutIface: outIface, Comment: "multihop-forward", Position: 0},
		{GroupID: g.ID, Chain: "forward", Action: "accept", Family: 2, InIface: outIface, OutIface: inIface, StateMatch: "established,related", Comment: "multihop-return", Position: 1},
	}
	if err := insertFirewallRules(st, fwRules); err != nil {
		return g, err
	}
	return g, nil
}

// KillSwitch creates the catch-all deny posture described in the
// design: an output chain that only lets loopback, established
// traffic, the tunnel, DHCP, and (optionally) a wstunnel port through
// before dropping everything else, and an input chain that accepts
// loopback and established traffic before dropping the rest. Always
// named "kill-switch", at priority 10.
func KillSwitch(st *store.Store, wgPort, wstunnelPort int32, wgIface string) (store.RuleGroup, error) {
	meta := metadataJSON(map[string]any{
		"preset": "kill_switch", "wg_port": wgPort, "wstunnel_port": wstunnelPort, "wg_iface": wgIface,
	})
	g, err := st.CreateRuleGroup("kill-switch", "kill_switch", 10, meta)
	if err != nil {
		return g, brerr.Wrap(err, brerr.PresetFailed, "create kill-switch group")
	}

	var pos int32
	var rules []store.FirewallRule
	next := func(r store.FirewallRule) {
		r.GroupID = g.ID
		r.Family = 2
		r.Position = pos
		pos++
		rules = append(rules, r)
	}

	next(store.FirewallRule{Chain: "output", Action: "accept", OutIface: "lo", Comment: "ks-lo-out"})
	next(store.FirewallRule{Chain: "output", Action: "accept", StateMatch: "established,related", Comment: "ks-ct-out"})
	next(store.FirewallRule{Chain: "output", Action: "accept", Proto: "udp", DPort: wgPort, Comment: "ks-wg-out"})
	next(store.FirewallRule{Chain: "output", Action: "accept", OutIface: wgIface, Comment: "ks-wg-iface"})
	next(store.FirewallRule{Chain: "output", Action: "accept", Proto: "udp", DPort: 67, Comment: "ks-dhcp-67"})
	next(store.FirewallRule{Chain: "output", Action: "accept", Proto: "udp", DPort: 68, Comment: "ks-dhcp-68"})
	if wstunnelPort > 0 {
		next(store.FirewallRule{Chain: "output", Action: "accept", Proto: "tcp", DPort: wstunnelPort, Comment: "ks-wst-out"})
	}
	next(store.FirewallRule{Chain: "output", Action: "drop", Comment: "ks-drop-out"})
	next(store.FirewallRule{Chain: "input", Action: "accept", InIface: "lo", Comment: "ks-lo-in"})
	next(store.FirewallRule{Chain: "input", Action: "accept", StateMatch: "established,related", Comment: "ks-ct-in"})
	next(store.FirewallRule{Chain: "input", Action: "drop", Comment: "ks-drop-in"})

	if err := insertFirewallRules(st, rules); err != nil {
		return g, err
	}
	return g, nil
}

// DNSProtection allows DNS only via the tunnel interface and loopback,
// dropping it everywhere else — priority 20, always named
// "dns-protection".
func DNSProtection(st *store.Store, wgIface string) (store.RuleGroup, error) {
	meta := metadataJSON(map[string]any{"preset": "dns_protection", "wg_iface": wgIface})
	g, err := st.CreateRuleGroup("dns-protection", "dns_protection", 20, meta)
	if err != nil {
		return g, brerr.Wrap(err, brerr.PresetFailed, "create dns-protection group")
	}

	rules := []store.FirewallRule{
		{GroupID: g.ID, Chain: "output", Action: "accept", Family: 2, Proto: "udp", DPort: 53, OutIface: wgIface, Comment: "dns-wg-udp", Position: 0},
		{GroupID: g.ID, Chain: "output", Action: "accept", Family: 2, Proto: "tcp", DPort: 53, OutIface: wgIface, Comment: "dns-wg-tcp", Position: 1},
		{GroupID: g.ID, Chain: "output", Action: "accept", Family: 2, Proto: "udp", DPort: 53, OutIface: "lo", Comment: "dns-lo-udp", Position: 2},
		{GroupID: g.ID, Chain: "output", Action: "drop", Family: 2, Proto: "udp", DPort: 53, Comment: "dns-block-udp", Position: 3},
		{GroupID: g.ID, Chain: "output", Action: "drop", Family: 2, Proto: "tcp", DPort: 53, Comment: "dns-block-tcp", Position: 4},
	}
	if err := insertFirewallRules(st, rules); err != nil {
		return g, err
	}
	return g, nil
}

// IPv6Block drops all IPv6 traffic on input, output and forward —
// priority 5, always named "ipv6-block".
func IPv6Block(st *store.Store) (store.RuleGroup, error) {
	meta := metadataJSON(map[string]any{"preset": "ipv6_block"})
	g, err := st.CreateRuleGroup("ipv6-block", "ipv6_block", 5, meta)
	if err != nil {
		return g, brerr.Wrap(err, brerr.PresetFailed, "create ipv6-block group")
	}

	var rules []store.FirewallRule
	for i, chain := range []string{"input", "output", "forward"} {
		rules = append(rules, store.FirewallRule{
			GroupID: g.ID, Chain: chain, Action: "drop", Family: 10,
			Comment: fmt.Sprintf("ipv6-%s", chain), Position: int32(i),
		})
	}
	if err := insertFirewallRules(st, rules); err != nil {
		return g, err
	}
	return g, nil
}

func insertFirewallRules(st *store.Store, rules []store.FirewallRule) error {
	for _, r := range rules {
		if _, err := st.InsertFirewallRule(r); err != nil {
			return brerr.Wrap(err, brerr.PresetFailed, "insert preset firewall rule")
		}
	}
	return nil
}

func insertRoutingRules(st *store.Store, rules []store.RoutingRule) error {
	for _, r := range rules {
		if _, err := st.InsertRoutingRule(r); err != nil {
			return brerr.Wrap(err, brerr.PresetFailed, "insert preset routing rule")
		}
	}
	return nil
}
