// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package bridge

import (
	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/drift"
)

// Verify runs drift detection: it dumps the private table and compares
// it against the store's applied rows. Requires Init to have run.
func (b *Bridge) Verify() (drift.Report, error) {
	var report drift.Report
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		var err error
		report, err = drift.Verify(b.store, b.nft)
		return err
	})
	return report, err
}

// FlushTable drops every rule in the private table, preserving chains.
func (b *Bridge) FlushTable() error {
	return b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		if err := b.nft.FlushTable(); err != nil {
			return err
		}
		if err := b.store.ClearFwAppliedState(); err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "clear firewall applied state")
		}
		return nil
	})
}
