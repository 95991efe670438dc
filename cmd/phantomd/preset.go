// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"flag"
	"fmt"
	"strconv"

	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/presets"
	"phantomd.dev/bridge/internal/store"
)

// presets operate directly on the store, since they're pure data
// constructors with no kernel interaction of their own — the bridge
// only needs to be Started afterwards to push the new group live.
func openStore(db string) (*store.Store, error) {
	return store.Open(store.DefaultOptions(db))
}

func runPreset(args []string) error {
	if len(args) == 0 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd preset <vpn|multihop|killswitch|dns|ipv6block> ...")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "vpn":
		return runPresetVPN(rest)
	case "multihop":
		return runPresetMultihop(rest)
	case "killswitch":
		return runPresetKillSwitch(rest)
	case "dns":
		return runPresetDNS(rest)
	case "ipv6block":
		return runPresetIPv6Block(rest)
	default:
		return brerr.Errorf(brerr.InvalidParam, "unknown preset %q", sub)
	}
}

func runPresetVPN(args []string) error {
	fs := flag.NewFlagSet("preset vpn", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 5 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd preset vpn <name> <wg-iface> <wg-port> <wg-subnet> <out-iface>")
	}
	wgPort, err := strconv.ParseInt(rest[2], 10, 32)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse wg-port")
	}

	st, err := openStore(*db)
	if err != nil {
		return brerr.Wrap(err, brerr.DbOpen, "open store")
	}
	defer st.Close()

	g, err := presets.VPN(st, rest[0], rest[1], int32(wgPort), rest[3], rest[4])
	if err != nil {
		return err
	}
	fmt.Printf("created vpn group %q (id=%d)\n", g.Name, g.ID)
	return nil
}

func runPresetMultihop(args []string) error {
	fs := flag.NewFlagSet("preset multihop", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 6 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd preset multihop <name> <in-iface> <out-iface> <fwmark> <table-id> <subnet>")
	}
	fwmark, err := strconv.ParseInt(rest[3], 10, 32)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse fwmark")
	}
	tableID, err := strconv.ParseInt(rest[4], 10, 32)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse table-id")
	}

	st, err := openStore(*db)
	if err != nil {
		return brerr.Wrap(err, brerr.DbOpen, "open store")
	}
	defer st.Close()

	g, err := presets.Multihop(st, rest[0], rest[1], rest[2], int32(fwmark), int32(tableID), rest[5])
	if err != nil {
		return err
	}
	fmt.Printf("created multihop group %q (id=%d)\n", g.Name, g.ID)
	return nil
}

func runPresetKillSwitch(args []string) error {
	fs := flag.NewFlagSet("preset killswitch", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 3 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd preset killswitch <wg-port> <wstunnel-port> <wg-iface>")
	}
	wgPort, err := strconv.ParseInt(rest[0], 10, 32)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse wg-port")
	}
	wstunnelPort, err := strconv.ParseInt(rest[1], 10, 32)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse wstunnel-port")
	}

	st, err := openStore(*db)
	if err != nil {
		return brerr.Wrap(err, brerr.DbOpen, "open store")
	}
	defer st.Close()

	g, err := presets.KillSwitch(st, int32(wgPort), int32(wstunnelPort), rest[2])
	if err != nil {
		return err
	}
	fmt.Printf("created %q (id=%d)\n", g.Name, g.ID)
	return nil
}

func runPresetDNS(args []string) error {
	fs := flag.NewFlagSet("preset dns", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd preset dns <wg-iface>")
	}

	st, err := openStore(*db)
	if err != nil {
		return brerr.Wrap(err, brerr.DbOpen, "open store")
	}
	defer st.Close()

	g, err := presets.DNSProtection(st, rest[0])
	if err != nil {
		return err
	}
	fmt.Printf("created %q (id=%d)\n", g.Name, g.ID)
	return nil
}

func runPresetIPv6Block(args []string) error {
	fs := flag.NewFlagSet("preset ipv6block", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)

	st, err := openStore(*db)
	if err != nil {
		return brerr.Wrap(err, brerr.DbOpen, "open store")
	}
	defer st.Close()

	g, err := presets.IPv6Block(st)
	if err != nil {
		return err
	}
	fmt.Printf("created %q (id=%d)\n", g.Name, g.ID)
	return nil
}
