// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"phantomd.dev/bridge/internal/bridge"
	"phantomd.dev/bridge/internal/logging"
)

// openBridge returns an initialized Bridge against the resolved store
// path, used by every subcommand that needs one already up.
func openBridge(db string) (*bridge.Bridge, error) {
	b := bridge.New(logging.Default())
	if err := b.Init(db); err != nil {
		return nil, err
	}
	return b, nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()
	fmt.Printf("initialized %s (state=%s)\n", *db, b.State())
	return nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.Start(); err != nil {
		return err
	}
	fmt.Printf("started (state=%s)\n", b.State())
	if last := b.LastError(); last != "" {
		fmt.Fprintf(os.Stderr, "warning: one or more rules failed to apply: %s\n", last)
	}
	return nil
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.Stop(); err != nil {
		return err
	}
	fmt.Printf("stopped (state=%s)\n", b.State())
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	asJSON := fs.Bool("json", false, "print as JSON")
	fs.Parse(args)

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	status, err := b.GetStatus()
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Printf("state:             %s\n", status.State)
	if status.LastError != "" {
		fmt.Printf("last_error:        %s\n", status.LastError)
	}
	fmt.Printf("ip_forward:        %v\n", status.IPForwardEnabled)
	fmt.Printf("ipv6_blocked:      %v\n", status.IPv6Blocked)
	fmt.Printf("kill_switch:       %v\n", status.KillSwitchActive)
	fmt.Printf("groups:            %d\n", status.Groups)
	fmt.Printf("firewall_rules:    %d applied / %d declared\n", status.FirewallRules.Applied, status.FirewallRules.DeclaredTotal)
	fmt.Printf("routing_rules:     %d applied / %d declared\n", status.RoutingRules.Applied, status.RoutingRules.DeclaredTotal)
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	asJSON := fs.Bool("json", false, "print as JSON")
	fs.Parse(args)

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := b.Verify()
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if report.InSync {
		fmt.Println("in sync")
		return nil
	}
	fmt.Println("drift detected:")
	for _, m := range report.MissingInKernel {
		fmt.Printf("  missing in kernel: rule %d (chain=%s)\n", m.RuleID, m.Chain)
	}
	for _, e := range report.ExtraInKernel {
		fmt.Printf("  extra in kernel:   handle %d (chain=%s, rule=%d)\n", e.Handle, e.Chain, e.RuleID)
	}
	if report.RoutingRulesApplied > 0 {
		fmt.Printf("  routing rules applied (not dumped): %d\n", report.RoutingRulesApplied)
	}
	return nil
}

func runFlush(args []string) error {
	fs := flag.NewFlagSet("flush", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.FlushTable(); err != nil {
		return err
	}
	fmt.Println("flushed")
	return nil
}
