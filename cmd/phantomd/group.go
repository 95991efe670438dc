// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"flag"
	"fmt"
	"strconv"

	brerr "phantomd.dev/bridge/internal/errors"
)

func runGroup(args []string) error {
	if len(args) == 0 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd group <create|list|enable|disable|delete> ...")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "create":
		return runGroupCreate(rest)
	case "list":
		return runGroupList(rest)
	case "enable":
		return runGroupEnable(rest)
	case "disable":
		return runGroupDisable(rest)
	case "delete":
		return runGroupDelete(rest)
	default:
		return brerr.Errorf(brerr.InvalidParam, "unknown group subcommand %q", sub)
	}
}

func runGroupCreate(args []string) error {
	fs := flag.NewFlagSet("group create", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	meta := fs.String("meta", "{}", "JSON metadata blob")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 3 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd group create <name> <type> <priority>")
	}
	priority, err := strconv.ParseInt(rest[2], 10, 32)
	if err != nil {
		return brerr.Wrap(err, brerr.InvalidParam, "parse priority")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	g, err := b.CreateGroup(rest[0], rest[1], int32(priority), *meta)
	if err != nil {
		return err
	}
	fmt.Printf("created group %q (id=%d, type=%s, priority=%d)\n", g.Name, g.ID, g.GroupType, g.Priority)
	return nil
}

func runGroupList(args []string) error {
	fs := flag.NewFlagSet("group list", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()

	groups, err := b.ListGroups()
	if err != nil {
		return err
	}
	for _, g := range groups {
		state := "disabled"
		if g.Enabled {
			state = "enabled"
		}
		fmt.Printf("%-4d %-20s type=%-12s priority=%-4d %s\n", g.ID, g.Name, g.GroupType, g.Priority, state)
	}
	return nil
}

func runGroupEnable(args []string) error {
	fs := flag.NewFlagSet("group enable", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd group enable <name>")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.EnableGroup(fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("enabled %q\n", fs.Arg(0))
	return nil
}

func runGroupDisable(args []string) error {
	fs := flag.NewFlagSet("group disable", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd group disable <name>")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.DisableGroup(fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("disabled %q\n", fs.Arg(0))
	return nil
}

func runGroupDelete(args []string) error {
	fs := flag.NewFlagSet("group delete", flag.ExitOnError)
	db := fs.String("db", dbPath(), "path to the sqlite store")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return brerr.New(brerr.InvalidParam, "usage: phantomd group delete <name>")
	}

	b, err := openBridge(*db)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.DeleteGroup(fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("deleted %q\n", fs.Arg(0))
	return nil
}
