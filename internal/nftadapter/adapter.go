// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Package nftadapter drives the kernel's packet filter directly through
// github.com/google/nftables — no nft binary, no subprocess. It owns a
// single private table ("inet phantom") and the four base chains the
// bridge hooks into.
package nftadapter

import (
	"fmt"

	"github.com/google/nftables"

	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/logging"
)

// TableName is the bridge's private nftables table. Other agents must not
// touch it.
const TableName = "phantom"

// Chain names, matching the `chain` column of firewall_rules rows.
const (
	ChainInput       = "input"
	ChainForward     = "forward"
	ChainOutput      = "output"
	ChainPostrouting = "postrouting"
)

// RuleSpec is the adapter's view of a declared filter rule — the union of
// fields any chain/action combination might need.
type RuleSpec struct {
	Chain       string
	Action      string // accept | drop | masquerade
	Family      int32  // 2 = IPv4, 10 = IPv6
	Proto       string
	DPort       int32
	SPort       int32
	Source      string
	Destination string
	InIface     string
	OutIface    string
	StateMatch  string
	Comment     string
}

// DumpedRule is a projection of a live kernel rule used by drift detection
// and structural handle lookup.
type DumpedRule struct {
	Chain      string
	Handle     uint64
	Comment    string
	Family     int32
	Proto      string
	DPort      int32
	HasAction  bool
}

// Adapter is a long-lived handle onto the bridge's private table. It is
// not safe for concurrent use; callers serialize access (see bridge
// package).
type Adapter struct {
	conn   *nftables.Conn
	table  *nftables.Table
	chains map[string]*nftables.Chain
	log    *logging.Logger
}

// New opens a netlink socket to the kernel's nf_tables subsystem and
// ensures the private table and its base chains exist.
func New(log *logging.Logger) (*Adapter, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, classifyOpenErr(err)
	}
	if log == nil {
		log = logging.Default()
	}
	a := &Adapter{
		conn:   conn,
		chains: make(map[string]*nftables.Chain),
		log:    log.WithComponent("nftadapter"),
	}
	if err := a.EnsureTable(); err != nil {
		return nil, err
	}
	return a, nil
}

// classifyOpenErr maps netlink socket creation failures per the error
// contract: EPERM surfaces as PermissionDenied, everything else as
// NftablesFailed.
func classifyOpenErr(err error) error {
	if isPermissionErr(err) {
		return brerr.Wrap(err, brerr.PermissionDenied, "open nftables netlink socket")
	}
	return brerr.Wrap(err, brerr.NftablesFailed, "open nftables netlink socket")
}

// EnsureTable idempotently creates the private table and its four base
// chains. Safe to call when they already exist.
func (a *Adapter) EnsureTable() error {
	table := a.conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyINet,
		Name:   TableName,
	})
	a.table = table

	a.chains[ChainInput] = a.conn.AddChain(&nftables.Chain{
		Name:     ChainInput,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   chainPolicyAccept(),
	})
	a.chains[ChainForward] = a.conn.AddChain(&nftables.Chain{
		Name:     ChainForward,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
		Policy:   chainPolicyAccept(),
	})
	a.chains[ChainOutput] = a.conn.AddChain(&nftables.Chain{
		Name:     ChainOutput,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   chainPolicyAccept(),
	})
	a.chains[ChainPostrouting] = a.conn.AddChain(&nftables.Chain{
		Name:     ChainPostrouting,
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
		Policy:   chainPolicyAccept(),
	})

	if err := a.conn.Flush(); err != nil {
		return brerr.Wrap(err, brerr.NftablesFailed, "ensure table "+TableName)
	}
	a.log.Debug("table ensured", "table", TableName)
	return nil
}

func chainPolicyAccept() *nftables.ChainPolicy {
	p := nftables.ChainPolicyAccept
	return &p
}

func (a *Adapter) chain(name string) (*nftables.Chain, error) {
	c, ok := a.chains[name]
	if !ok {
		return nil, brerr.Errorf(brerr.InvalidParam, "unknown chain %q", name)
	}
	return c, nil
}

// ApplyRule synthesizes and installs one rule, returning the kernel-assigned
// handle on success.
func (a *Adapter) ApplyRule(spec RuleSpec) (uint64, error) {
	chain, err := a.chain(spec.Chain)
	if err != nil {
		return 0, err
	}

	exprs, err := buildExprs(spec)
	if err != nil {
		return 0, brerr.Wrap(err, brerr.InvalidParam, "build rule expressions")
	}

	a.conn.AddRule(&nftables.Rule{
		Table:    a.table,
		Chain:    chain,
		Exprs:    exprs,
		UserData: []byte(spec.Comment),
	})

	if err := a.conn.Flush(); err != nil {
		return 0, brerr.Wrap(err, brerr.NftablesFailed, fmt.Sprintf("apply rule in chain %s", spec.Chain))
	}

	handle, err := a.readBackHandle(chain, spec.Comment)
	if err != nil {
		return 0, err
	}
	a.log.Debug("rule applied", "chain", spec.Chain, "handle", handle, "comment", spec.Comment)
	return handle, nil
}

// readBackHandle re-dumps chain after a flush and returns the handle of
// the rule tagged with comment. A plain nftables.New() conn sends no
// NLM_F_ECHO, so AddRule's return value never carries the kernel-assigned
// handle — the handle only exists once the kernel has processed the
// batch and it can be read back via GetRules.
func (a *Adapter) readBackHandle(chain *nftables.Chain, comment string) (uint64, error) {
	rules, err := a.conn.GetRules(a.table, chain)
	if err != nil {
		return 0, brerr.Wrap(err, brerr.NftablesFailed, "read back rule handle")
	}
	handle, ok := matchHandleByComment(rules, comment)
	if !ok {
		return 0, brerr.Errorf(brerr.NftablesFailed, "rule applied but not found on read-back (comment %q)", comment)
	}
	return handle, nil
}

// matchHandleByComment is the pure lookup at the center of readBackHandle:
// the first rule whose UserData equals comment. Split out so it can be
// exercised against in-memory *nftables.Rule values without a netlink
// socket.
func matchHandleByComment(rules []*nftables.Rule, comment string) (uint64, bool) {
	for _, r := range rules {
		if string(r.UserData) == comment {
			return r.Handle, true
		}
	}
	return 0, false
}

// RemoveRuleByHandle deletes a single rule identified by its kernel handle.
func (a *Adapter) RemoveRuleByHandle(chainName string, handle uint64) error {
	chain, err := a.chain(chainName)
	if err != nil {
		return err
	}
	if err := a.conn.DelRule(&nftables.Rule{
		Table:  a.table,
		Chain:  chain,
		Handle: handle,
	}); err != nil {
		return brerr.Wrap(err, brerr.NftablesFailed, "delete rule by handle")
	}
	if err := a.conn.Flush(); err != nil {
		return brerr.Wrap(err, brerr.NftablesFailed, "flush after delete")
	}
	return nil
}

// FlushTable atomically drops every rule in the private table, preserving
// the table and chains themselves.
func (a *Adapter) FlushTable() error {
	a.conn.FlushTable(a.table)
	if err := a.conn.Flush(); err != nil {
		return brerr.Wrap(err, brerr.NftablesFailed, "flush table")
	}
	a.log.Debug("table flushed", "table", TableName)
	return nil
}

// Dump returns a structural projection of every rule in the private table,
// across all four base chains.
func (a *Adapter) Dump() ([]DumpedRule, error) {
	var out []DumpedRule
	for _, name := range []string{ChainInput, ChainForward, ChainOutput, ChainPostrouting} {
		chain := a.chains[name]
		rules, err := a.conn.GetRules(a.table, chain)
		if err != nil {
			return nil, brerr.Wrapf(err, brerr.NftablesFailed, "dump chain %s", name)
		}
		for _, r := range rules {
			out = append(out, projectRule(name, r))
		}
	}
	return out, nil
}

// FindHandleByStructuralMatch is the fallback lookup path used by the
// bridge's removal path when a rule's stored handle is 0 (lost or never
// captured). When query carries a comment tag, that tag alone identifies
// the rule — phantom-rule-<id> comments are unique per row, so chain and
// comment are sufficient and family/proto/port are not checked. Without a
// comment it falls back to a structural match on chain, family, proto and
// destination port, returning the first live rule that agrees on all of
// them.
func (a *Adapter) FindHandleByStructuralMatch(query RuleSpec) (uint64, bool, error) {
	dump, err := a.Dump()
	if err != nil {
		return 0, false, err
	}
	handle, ok := matchStructural(dump, query)
	return handle, ok, nil
}

// matchStructural is the pure lookup behind FindHandleByStructuralMatch,
// split out so it can be exercised directly against a synthesized dump.
func matchStructural(dump []DumpedRule, query RuleSpec) (uint64, bool) {
	for _, d := range dump {
		if d.Chain != query.Chain {
			continue
		}
		if query.Comment != "" {
			if d.Comment == query.Comment {
				return d.Handle, true
			}
			continue
		}
		if d.Family != query.Family {
			continue
		}
		if query.Proto != "" && d.Proto != query.Proto {
			continue
		}
		if query.DPort != 0 && d.DPort != query.DPort {
			continue
		}
		if !d.HasAction {
			continue
		}
		return d.Handle, true
	}
	return 0, false
}
