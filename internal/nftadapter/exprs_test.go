// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package nftadapter

import (
	"testing"

	"github.com/google/nftables/expr"
)

func TestBuildExprsVPNInputRule(t *testing.T) {
	exprs, err := buildExprs(RuleSpec{
		Chain:   ChainInput,
		Action:  "accept",
		Family:  2,
		Proto:   "udp",
		DPort:   51820,
		Comment: "phantom-rule-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(exprs) == 0 {
		t.Fatal("expected non-empty expression list")
	}
	if _, ok := exprs[len(exprs)-1].(*expr.Verdict); !ok {
		t.Errorf("expected terminal verdict, got %T", exprs[len(exprs)-1])
	}
}

func TestBuildExprsMasquerade(t *testing.T) {
	exprs, err := buildExprs(RuleSpec{
		Chain:   ChainPostrouting,
		Action:  "masquerade",
		Family:  2,
		Source:  "10.8.0.0/24",
		OutIface: "eth0",
	})
	if err != nil {
		t.Fatal(err)
	}
	foundMasq := false
	for _, e := range exprs {
		if _, ok := e.(*expr.Masq); ok {
			foundMasq = true
		}
	}
	if !foundMasq {
		t.Error("expected masquerade expression")
	}
}

func TestBuildExprsUnknownActionErrors(t *testing.T) {
	_, err := buildExprs(RuleSpec{Chain: ChainInput, Action: "bogus"})
	if err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestStateMatchExprsEstablishedRelated(t *testing.T) {
	exprs, err := stateMatchExprs("established,related")
	if err != nil {
		t.Fatal(err)
	}
	if len(exprs) != 3 {
		t.Fatalf("len(exprs) = %d, want 3", len(exprs))
	}
	bw, ok := exprs[1].(*expr.Bitwise)
	if !ok {
		t.Fatalf("exprs[1] = %T, want *expr.Bitwise", exprs[1])
	}
	if bw.Mask[0] != ctStateEstablished|ctStateRelated {
		t.Errorf("mask = %v, want %d", bw.Mask, ctStateEstablished|ctStateRelated)
	}
}

func TestStateMatchExprsUnknownState(t *testing.T) {
	if _, err := stateMatchExprs("bogus"); err == nil {
		t.Error("expected error for unknown conntrack state")
	}
}

func TestCidrMatchExprsEmptyIsNoop(t *testing.T) {
	exprs, err := cidrMatchExprs("", 2, true)
	if err != nil {
		t.Fatal(err)
	}
	if exprs != nil {
		t.Errorf("expected nil for empty CIDR, got %v", exprs)
	}
}

func TestCidrMatchExprsIPv6(t *testing.T) {
	exprs, err := cidrMatchExprs("2001:db8::/32", 10, false)
	if err != nil {
		t.Fatal(err)
	}
	payload, ok := exprs[2].(*expr.Payload)
	if !ok {
		t.Fatalf("exprs[2] = %T, want *expr.Payload", exprs[2])
	}
	if payload.Offset != 24 || payload.Len != 16 {
		t.Errorf("offset=%d len=%d, want 24/16", payload.Offset, payload.Len)
	}
}
