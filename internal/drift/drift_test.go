// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package drift

import "testing"

func TestParseRuleID(t *testing.T) {
	id, ok := parseRuleID("phantom-rule-42")
	if !ok || id != 42 {
		t.Errorf("parseRuleID = (%d, %v), want (42, true)", id, ok)
	}
}

func TestParseRuleIDRejectsForeignComments(t *testing.T) {
	cases := []string{"", "some other comment", "phantom-rule-", "phantom-rule-abc"}
	for _, c := range cases {
		if _, ok := parseRuleID(c); ok {
			t.Errorf("parseRuleID(%q) = ok, want rejected", c)
		}
	}
}
