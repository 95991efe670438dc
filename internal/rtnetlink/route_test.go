// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package rtnetlink

import (
	"net"
	"testing"
)

func TestParseNetwork(t *testing.T) {
	ip, prefix, err := parseNetwork("10.66.66.0/24")
	if err != nil {
		t.Fatal(err)
	}
	if !ip.Equal(net.ParseIP("10.66.66.0")) || prefix != 24 {
		t.Errorf("got %v/%d, want 10.66.66.0/24", ip, prefix)
	}
}

func TestParseNetworkInvalid(t *testing.T) {
	cases := []string{"10.66.66.0", "not-an-ip/24", "10.66.66.0/abc", "10.66.66.0/99"}
	for _, c := range cases {
		if _, _, err := parseNetwork(c); err == nil {
			t.Errorf("parseNetwork(%q) = nil error, want error", c)
		}
	}
}

func TestResolveTableWellKnown(t *testing.T) {
	cases := map[string]uint32{"default": 253, "main": 254, "local": 255, "unspec": 0}
	for name, want := range cases {
		got, err := ResolveTable(name)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ResolveTable(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestResolveTableNumeric(t *testing.T) {
	got, err := ResolveTable("100")
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Errorf("ResolveTable(\"100\") = %d, want 100", got)
	}
}

func TestAlign4(t *testing.T) {
	cases := map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8}
	for in, want := range cases {
		if got := align4(in); got != want {
			t.Errorf("align4(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPushAttrPadding(t *testing.T) {
	buf := pushAttr(nil, fraSrc, []byte{10, 66, 66, 0})
	// rta_len(2) + rta_type(2) + 4 bytes of data = 8, already 4-byte aligned.
	if len(buf) != 8 {
		t.Fatalf("len(buf) = %d, want 8", len(buf))
	}
	if buf[0] != 8 {
		t.Errorf("rta_len = %d, want 8", buf[0])
	}
}

func TestBuildFibRuleMsgLength(t *testing.T) {
	from := net.ParseIP("10.8.0.0").To4()
	buf := buildFibRuleMsg(rtmNewRule, nlmFRequest|nlmFAck|nlmFCreate|nlmFExcl, 1, from, 24, nil, 0, false, 100, 200)
	// nlmsghdr(16) + fib_rule_hdr(12) + src attr(8) + priority attr(8) = 44
	if len(buf) != 44 {
		t.Fatalf("len(buf) = %d, want 44", len(buf))
	}
	if buf[4] != byte(rtmNewRule) {
		t.Errorf("nlmsg_type low byte = %d, want %d", buf[4], rtmNewRule)
	}
}

func TestBuildRouteMsgDefaultRoute(t *testing.T) {
	buf := buildRouteMsg(rtmNewRoute, nlmFRequest|nlmFAck|nlmFCreate|nlmFExcl, 1, net.IPv4(0, 0, 0, 0), 0, 5, 254)
	// nlmsghdr(16) + rtmsg(12) + oif attr(8), no dst attr for the default route.
	if len(buf) != 36 {
		t.Fatalf("len(buf) = %d, want 36", len(buf))
	}
	// rtm_scope (offset 16+6) should be universe (0) for the default route.
	if buf[16+6] != rtScopeUniv {
		t.Errorf("rtm_scope = %d, want %d (universe)", buf[16+6], rtScopeUniv)
	}
}
