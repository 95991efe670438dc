// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package nftadapter

import (
	"testing"

	"github.com/google/nftables"
)

// TestMatchHandleByCommentReadsKernelAssignedHandle exercises the exact
// lookup ApplyRule's read-back uses. nftables.Rule.Handle here stands in
// for the value the kernel assigns and GetRules echoes back — a plain
// AddRule call (no NLM_F_ECHO) never carries it, so this is the only
// place a handle comes from in production.
func TestMatchHandleByCommentReadsKernelAssignedHandle(t *testing.T) {
	rules := []*nftables.Rule{
		{Handle: 7, UserData: []byte("phantom-rule-1")},
		{Handle: 9, UserData: []byte("phantom-rule-2")},
	}

	handle, ok := matchHandleByComment(rules, "phantom-rule-2")
	if !ok {
		t.Fatal("expected match for phantom-rule-2")
	}
	if handle != 9 {
		t.Errorf("handle = %d, want 9", handle)
	}
	if handle == 0 {
		t.Error("handle must never be 0 for a matched rule")
	}
}

func TestMatchHandleByCommentNoMatch(t *testing.T) {
	rules := []*nftables.Rule{
		{Handle: 7, UserData: []byte("phantom-rule-1")},
	}
	if _, ok := matchHandleByComment(rules, "phantom-rule-99"); ok {
		t.Error("expected no match for an absent comment")
	}
}

// TestMatchStructuralPrefersCommentIdentity mirrors the bridge's
// removal-recovery call: a rule whose family/proto don't even match the
// query must still be found by its unique comment tag.
func TestMatchStructuralPrefersCommentIdentity(t *testing.T) {
	dump := []DumpedRule{
		{Chain: ChainInput, Handle: 3, Comment: "phantom-rule-5", Family: 10, Proto: "tcp", HasAction: false},
	}

	handle, ok := matchStructural(dump, RuleSpec{Chain: ChainInput, Comment: "phantom-rule-5"})
	if !ok {
		t.Fatal("expected comment-identified rule to be found")
	}
	if handle != 3 {
		t.Errorf("handle = %d, want 3", handle)
	}
}

func TestMatchStructuralFallsBackWithoutComment(t *testing.T) {
	dump := []DumpedRule{
		{Chain: ChainInput, Handle: 4, Family: 2, Proto: "udp", DPort: 51820, HasAction: true},
		{Chain: ChainInput, Handle: 5, Family: 2, Proto: "tcp", DPort: 443, HasAction: true},
	}

	handle, ok := matchStructural(dump, RuleSpec{Chain: ChainInput, Family: 2, Proto: "tcp", DPort: 443})
	if !ok {
		t.Fatal("expected structural match")
	}
	if handle != 5 {
		t.Errorf("handle = %d, want 5", handle)
	}
}

func TestMatchStructuralNoActionSkipped(t *testing.T) {
	dump := []DumpedRule{
		{Chain: ChainInput, Handle: 1, Family: 2, Proto: "tcp", DPort: 443, HasAction: false},
	}
	if _, ok := matchStructural(dump, RuleSpec{Chain: ChainInput, Family: 2, Proto: "tcp", DPort: 443}); ok {
		t.Error("a rule with no terminal action must not be treated as a match")
	}
}
