// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import "testing"

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DefaultOptions(":memory:"))
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndMigrate(t *testing.T) {
	s := testStore(t)
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("user_version = %d, want %d", version, schemaVersion)
	}
}

func TestConfigLifecycle(t *testing.T) {
	s := testStore(t)
	if err := s.InitConfig(); err != nil {
		t.Fatal(err)
	}
	cfg, err := s.GetConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.State != "initialized" {
		t.Errorf("state = %q, want initialized", cfg.State)
	}
	if cfg.IPForwardEnabled {
		t.Error("ip_forward_enabled should default false")
	}

	if err := s.SetState("started"); err != nil {
		t.Fatal(err)
	}
	cfg, _ = s.GetConfig()
	if cfg.State != "started" {
		t.Errorf("state = %q, want started", cfg.State)
	}

	if err := s.SetConfigFlag("ip_forward_enabled", true); err != nil {
		t.Fatal(err)
	}
	cfg, _ = s.GetConfig()
	if !cfg.IPForwardEnabled {
		t.Error("ip_forward_enabled should be true")
	}

	if err := s.SetConfigFlag("not_a_real_column", true); err == nil {
		t.Error("expected error for unknown config column")
	}
}

func TestRuleGroupCRUD(t *testing.T) {
	s := testStore(t)
	g, err := s.CreateRuleGroup("vpn-basic", "vpn", 50, "{}")
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "vpn-basic" || g.GroupType != "vpn" || g.Priority != 50 || !g.Enabled {
		t.Errorf("unexpected group: %+v", g)
	}

	groups, err := s.ListRuleGroups()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}

	if err := s.SetGroupEnabled("vpn-basic", false); err != nil {
		t.Fatal(err)
	}
	updated, err := s.GetRuleGroup("vpn-basic")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Enabled {
		t.Error("expected group to be disabled")
	}

	if err := s.DeleteRuleGroup("vpn-basic"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRuleGroup("vpn-basic"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestFirewallRuleCRUD(t *testing.T) {
	s := testStore(t)
	g, err := s.CreateRuleGroup("test", "custom", 100, "{}")
	if err != nil {
		t.Fatal(err)
	}

	ruleID, err := s.InsertFirewallRule(FirewallRule{
		GroupID: g.ID, Chain: "input", Action: "accept", Family: 2,
		Proto: "udp", DPort: 51820, Comment: "wg-port",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ruleID <= 0 {
		t.Fatalf("ruleID = %d, want > 0", ruleID)
	}

	rules, err := s.FirewallRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Chain != "input" || rules[0].DPort != 51820 || rules[0].Applied {
		t.Errorf("unexpected rules: %+v", rules)
	}

	if err := s.UpdateFwRuleApplied(ruleID, true, 42); err != nil {
		t.Fatal(err)
	}
	applied, err := s.AppliedFirewallRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 1 || applied[0].NftHandle != 42 {
		t.Errorf("unexpected applied rules: %+v", applied)
	}

	if err := s.ClearFwAppliedState(); err != nil {
		t.Fatal(err)
	}
	applied, _ = s.AppliedFirewallRules()
	if len(applied) != 0 {
		t.Errorf("expected 0 applied rules, got %d", len(applied))
	}
}

func TestRoutingRuleCRUD(t *testing.T) {
	s := testStore(t)
	g, err := s.CreateRuleGroup("mh", "multihop", 100, "{}")
	if err != nil {
		t.Fatal(err)
	}

	ruleID, err := s.InsertRoutingRule(RoutingRule{
		GroupID: g.ID, RuleType: "policy", FromNetwork: "10.8.0.0/24",
		TableName: "multihop", TableID: 100, Priority: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ruleID <= 0 {
		t.Fatalf("ruleID = %d, want > 0", ruleID)
	}

	rules, err := s.RoutingRulesForGroup(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].RuleType != "policy" {
		t.Errorf("unexpected rules: %+v", rules)
	}

	if err := s.UpdateRtRuleApplied(ruleID, true); err != nil {
		t.Fatal(err)
	}
	applied, err := s.AppliedRoutingRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 1 {
		t.Errorf("len(applied) = %d, want 1", len(applied))
	}

	if err := s.ClearRtAppliedState(); err != nil {
		t.Fatal(err)
	}
	applied, _ = s.AppliedRoutingRules()
	if len(applied) != 0 {
		t.Errorf("expected 0 applied rules, got %d", len(applied))
	}
}

func TestCascadeDelete(t *testing.T) {
	s := testStore(t)
	g, err := s.CreateRuleGroup("del-test", "custom", 100, "{}")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertFirewallRule(FirewallRule{GroupID: g.ID, Chain: "input", Action: "accept", Family: 2, Proto: "tcp", DPort: 443}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertFirewallRule(FirewallRule{GroupID: g.ID, Chain: "forward", Action: "accept", Family: 2, InIface: "wg0", OutIface: "eth0", Position: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertRoutingRule(RoutingRule{GroupID: g.ID, RuleType: "policy", FromNetwork: "10.0.0.0/8", TableName: "main", TableID: 254, Priority: 100}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRuleGroup("del-test"); err != nil {
		t.Fatal(err)
	}
	all, err := s.AllFirewallRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expected cascade delete, got %d firewall rules", len(all))
	}
}

func TestEnabledGroups(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateRuleGroup("enabled", "vpn", 50, "{}"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateRuleGroup("disabled", "vpn", 100, "{}"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGroupEnabled("disabled", false); err != nil {
		t.Fatal(err)
	}

	enabled, err := s.EnabledGroups()
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 1 || enabled[0].Name != "enabled" {
		t.Errorf("unexpected enabled groups: %+v", enabled)
	}
}
