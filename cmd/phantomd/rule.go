// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"flag"
	"fmt"
	"strconv"

	"phantomd.dev/bridge/internal/bridge"
	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/store"
)

// findFirewallRule scans every declared rule for the matching id, since
// the bridge has no direct by-id lookup (rules are always addressed
// through their owning group in the store schema).
func findFirewallRule(b *bridge.Bridge, ruleID int64) (store.FirewallRule, error) {
	rules, err := b.AllFirewallRules()
	if err != nil {
		return store.FirewallRule{}, err
	}
	for _, r := range rules {
		if r.ID == ruleID {
			return r, nil
		}
	}
	return store.FirewallRule{}, brerr.Errorf(brerr.RuleNotFound, "firewall rule %d not found", ruleID)
}

func findRoutingRule(b *bridge.Bridge, ruleID int64) (store.RoutingRule, error) {
	rules, err := b.AllRoutingRules()
	if err != nil {
		return store.RoutingRule{}, err
	}
	for _, r := range rules {
		if r.ID == ruleID {
			return r, nil
		}
	}
	return store.RoutingRule{}, brerr.Errorf(brerr.RuleNotFound, "routing rule %d not found", ruleID)
}

func runRule(args []string) error {
	if len(args) == 0 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd rule <add-fw|add-rt|list-fw|list-rt|rm-fw|rm-rt> ...")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "add-fw":
		return runRuleAddFw(rest)
	case "add-rt":
		return runRuleAddRt(rest)
	case "list-fw":
		return runRuleListFw(rest)
	case "list-rt":
		return runRuleListRt(rest)
	case "rm-fw":
		return runRuleRemoveFw(rest)
	case "rm-rt":
		return runRuleRemoveRt(rest)
	default:
		return brerr.Errorf(brerr.InvalidParam, "unknown rule subcommand %q", sub)
	}
}

func runRuleAddFw(args []string) error {
	fs := flag.NewFlagSet("rule add-fw", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	chain := fs.String("chain", "input", "chain: input, output, forward, postrouting")
	action := fs.String("action", "accept", "accept, drop, masquerade")
	family := fs.Int("family", 2, "address family: 2=IPv4, 10=IPv6")
	proto := fs.String("proto", "", "tcp, udp, or empty for any")
	dport := fs.Int("dport", 0, "destination port")
	sport := fs.Int("sport", 0, "source port")
	source := fs.String("source", "", "source CIDR")
	dest := fs.String("dest", "", "destination CIDR")
	in := fs.String("in", "", "input interface")
	out := fs.String("out", "", "output interface")
	state := fs.String("state", "", "conntrack state match, e.g. established,related")
	comment := fs.String("comment", "", "free-text audit comment (not the kernel tag)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd rule add-fw [flags] <group>")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	id, err := b.AddFirewallRule(rest[0], store.FirewallRule{
		Chain: *chain, Action: *action, Family: int32(*family), Proto: *proto,
		DPort: int32(*dport), SPort: int32(*sport), Source: *source, Destination: *dest,
		InIface: *in, OutIface: *out, StateMatch: *state, Comment: *comment,
	})
	if err != nil {
		return err
	}
	fmt.Printf("added firewall rule %d\n", id)
	return nil
}

func runRuleAddRt(args []string) error {
	fs := flag.NewFlagSet("rule add-rt", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	ruleType := fs.String("type", "policy", "policy, route, or table")
	from := fs.String("from", "", "source network (policy rules)")
	to := fs.String("to", "", "destination network (policy rules)")
	tableName := fs.String("table-name", "", "routing table name")
	tableID := fs.Int("table-id", 0, "routing table id")
	priority := fs.Int("priority", 100, "policy rule priority")
	dest := fs.String("dest", "default", "route destination (route rules)")
	device := fs.String("device", "", "egress device (route rules)")
	fwmark := fs.Int("fwmark", 0, "firewall mark stored with the rule (not sent to the kernel)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd rule add-rt [flags] <group>")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	id, err := b.AddRoutingRule(rest[0], store.RoutingRule{
		RuleType: *ruleType, FromNetwork: *from, ToNetwork: *to,
		TableName: *tableName, TableID: int32(*tableID), Priority: int32(*priority),
		Destination: *dest, Device: *device, FwMark: int32(*fwmark),
	})
	if err != nil {
		return err
	}
	fmt.Printf("added routing rule %d\n", id)
	return nil
}

func runRuleListFw(args []string) error {
	fs := flag.NewFlagSet("rule list-fw", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd rule list-fw <group-id>")
	}
	groupID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse group id")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	rules, err := b.ListFirewallRules(groupID)
	if err != nil {
		return err
	}
	for _, r := range rules {
		fmt.Printf("%-4d chain=%-10s action=%-10s proto=%-4s dport=%-6d applied=%v\n",
			r.ID, r.Chain, r.Action, r.Proto, r.DPort, r.Applied)
	}
	return nil
}

func runRuleListRt(args []string) error {
	fs := flag.NewFlagSet("rule list-rt", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd rule list-rt <group-id>")
	}
	groupID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse group id")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	rules, err := b.ListRoutingRules(groupID)
	if err != nil {
		return err
	}
	for _, r := range rules {
		fmt.Printf("%-4d type=%-8s table=%-12s priority=%-6d applied=%v\n",
			r.ID, r.RuleType, r.TableName, r.Priority, r.Applied)
	}
	return nil
}

func runRuleRemoveFw(args []string) error {
	fs := flag.NewFlagSet("rule rm-fw", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd rule rm-fw <rule-id>")
	}
	ruleID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse rule id")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	row, err := findFirewallRule(b, ruleID)
	if err != nil {
		return err
	}
	if err := b.RemoveFirewallRule(row.ID, row.Chain, row.Applied, row.NftHandle); err != nil {
		return err
	}
	fmt.Printf("removed firewall rule %d\n", ruleID)
	return nil
}

func runRuleRemoveRt(args []string) error {
	fs := flag.NewFlagSet("rule rm-rt", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd rule rm-rt <rule-id>")
	}
	ruleID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse rule id")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	row, err := findRoutingRule(b, ruleID)
	if err != nil {
		return err
	}
	if err := b.RemoveRoutingRule(row); err != nil {
		return err
	}
	fmt.Printf("removed routing rule %d\n", ruleID)
	return nil
}
