// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package bridge

import (
	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/store"
)

// CreateGroup persists a new rule group. The group starts enabled but
// applies nothing until rules are added to it.
func (b *Bridge) CreateGroup(name, groupType string, priority int32, metadata string) (store.RuleGroup, error) {
	var g store.RuleGroup
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		var err error
		g, err = b.store.CreateRuleGroup(name, groupType, priority, metadata)
		if err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "create rule group")
		}
		return nil
	})
	return g, err
}

// GetGroup looks up a rule group by name.
func (b *Bridge) GetGroup(name string) (store.RuleGroup, error) {
	var g store.RuleGroup
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		var err error
		g, err = b.store.GetRuleGroup(name)
		if err != nil {
			return brerr.Wrap(err, brerr.GroupNotFound, "get rule group "+name)
		}
		return nil
	})
	return g, err
}

// ListGroups returns every rule group, ordered (priority ASC, name ASC).
func (b *Bridge) ListGroups() ([]store.RuleGroup, error) {
	var groups []store.RuleGroup
	err := b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		var err error
		groups, err = b.store.ListRuleGroups()
		if err != nil {
			return brerr.Wrap(err, brerr.DbQuery, "list rule groups")
		}
		return nil
	})
	return groups, err
}

// DeleteGroup removes a group and, while running, its applied rules
// from the kernel first.
func (b *Bridge) DeleteGroup(name string) error {
	return b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		g, err := b.store.GetRuleGroup(name)
		if err != nil {
			return brerr.Wrap(err, brerr.GroupNotFound, "get rule group "+name)
		}
		if b.state == StateStarted {
			b.removeGroupRulesLocked(g)
		}
		if err := b.store.DeleteRuleGroup(name); err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "delete rule group")
		}
		return nil
	})
}

// EnableGroup marks a group enabled and, while running, applies its
// rules immediately under the same soft-failure policy as Start.
func (b *Bridge) EnableGroup(name string) error {
	return b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		if err := b.store.SetGroupEnabled(name, true); err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "enable rule group")
		}
		if b.state == StateStarted {
			g, err := b.store.GetRuleGroup(name)
			if err != nil {
				return brerr.Wrap(err, brerr.GroupNotFound, "get rule group "+name)
			}
			b.applyGroupRulesLocked(g)
		}
		return nil
	})
}

// DisableGroup marks a group disabled and, while running, removes its
// applied rules from the kernel.
func (b *Bridge) DisableGroup(name string) error {
	return b.withLock(func() error {
		if err := b.requireInitialized(); err != nil {
			return err
		}
		if b.state == StateStarted {
			g, err := b.store.GetRuleGroup(name)
			if err != nil {
				return brerr.Wrap(err, brerr.GroupNotFound, "get rule group "+name)
			}
			b.removeGroupRulesLocked(g)
		}
		if err := b.store.SetGroupEnabled(name, false); err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "disable rule group")
		}
		return nil
	})
}

func (b *Bridge) requireInitialized() error {
	if b.state == StateUninitialized {
		return brerr.New(brerr.NotInitialized, "bridge is not initialized")
	}
	return nil
}
