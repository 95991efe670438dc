// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package presets

import (
	"testing"

	"phantomd.dev/bridge/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.DefaultOptions(":memory:"))
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVPNShape(t *testing.T) {
	st := testStore(t)
	g, err := VPN(st, "vpn-basic", "wg0", 51820, "10.8.0.0/24", "eth0")
	if err != nil {
		t.Fatal(err)
	}
	if g.GroupType != "vpn" || g.Priority != 100 {
		t.Errorf("group = %+v, want type=vpn priority=100", g)
	}

	rules, err := st.FirewallRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 4 {
		t.Fatalf("len(rules) = %d, want 4", len(rules))
	}
	if rules[0].Chain != "input" || rules[0].DPort != 51820 {
		t.Errorf("rules[0] = %+v", rules[0])
	}
	if rules[1].Chain != "forward" {
		t.Errorf("rules[1].Chain = %q, want forward", rules[1].Chain)
	}
	if rules[2].StateMatch != "established,related" {
		t.Errorf("rules[2].StateMatch = %q, want established,related", rules[2].StateMatch)
	}
	if rules[3].Action != "masquerade" {
		t.Errorf("rules[3].Action = %q, want masquerade", rules[3].Action)
	}
}

func TestMultihopWithFwmark(t *testing.T) {
	st := testStore(t)
	g, err := Multihop(st, "hop1", "wg0", "wg-hop1", 100, 200, "10.8.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	if g.GroupType != "multihop" {
		t.Errorf("group_type = %q, want multihop", g.GroupType)
	}

	fwRules, err := st.FirewallRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(fwRules) != 2 {
		t.Fatalf("len(fwRules) = %d, want 2", len(fwRules))
	}

	rtRules, err := st.RoutingRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rtRules) != 4 {
		t.Fatalf("len(rtRules) = %d, want 4 (table+policy+route+fwmark)", len(rtRules))
	}
}

func TestMultihopWithoutFwmark(t *testing.T) {
	st := testStore(t)
	g, err := Multihop(st, "hop2", "wg0", "wg-hop2", 0, 200, "10.8.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	rtRules, err := st.RoutingRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rtRules) != 3 {
		t.Fatalf("len(rtRules) = %d, want 3 (table+policy+route)", len(rtRules))
	}
}

func TestKillSwitchWithWstunnel(t *testing.T) {
	st := testStore(t)
	g, err := KillSwitch(st, 51820, 443, "wg0")
	if err != nil {
		t.Fatal(err)
	}
	rules, err := st.FirewallRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 11 {
		t.Fatalf("len(rules) = %d, want 11", len(rules))
	}
	if rules[0].Chain != "output" || rules[0].Action != "accept" || rules[0].OutIface != "lo" {
		t.Errorf("rules[0] = %+v, want output/accept oif=lo", rules[0])
	}
	if rules[len(rules)-1].Chain != "input" || rules[len(rules)-1].Action != "drop" {
		t.Errorf("last rule = %+v, want input/drop", rules[len(rules)-1])
	}
}

func TestKillSwitchWithoutWstunnel(t *testing.T) {
	st := testStore(t)
	g, err := KillSwitch(st, 51820, 0, "wg0")
	if err != nil {
		t.Fatal(err)
	}
	rules, err := st.FirewallRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 10 {
		t.Fatalf("len(rules) = %d, want 10", len(rules))
	}
}

func TestDNSProtectionShape(t *testing.T) {
	st := testStore(t)
	g, err := DNSProtection(st, "wg0")
	if err != nil {
		t.Fatal(err)
	}
	rules, err := st.FirewallRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 5 {
		t.Fatalf("len(rules) = %d, want 5", len(rules))
	}
	if rules[3].Action != "drop" || rules[4].Action != "drop" {
		t.Errorf("expected final two rules to drop, got %+v and %+v", rules[3], rules[4])
	}
}

func TestIPv6BlockShape(t *testing.T) {
	st := testStore(t)
	g, err := IPv6Block(st)
	if err != nil {
		t.Fatal(err)
	}
	if g.Priority != 5 {
		t.Errorf("priority = %d, want 5", g.Priority)
	}
	rules, err := st.FirewallRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 3 {
		t.Fatalf("len(rules) = %d, want 3", len(rules))
	}
	for _, r := range rules {
		if r.Family != 10 || r.Action != "drop" {
			t.Errorf("rule = %+v, want family=10 action=drop", r)
		}
	}
}
