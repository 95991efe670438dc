// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

// Config is the single-row process configuration record.
type Config struct {
	State            string
	IPForwardEnabled bool
	IPv6Blocked      bool
	KillSwitchActive bool
	UpdatedAt        int64
}

// RuleGroup is a named, priority-ordered collection of firewall and
// routing rules that can be enabled or disabled as a unit.
type RuleGroup struct {
	ID        int64
	Name      string
	GroupType string
	Enabled   bool
	Priority  int32
	Metadata  string
	CreatedAt int64
	UpdatedAt int64
}

// FirewallRule is a single nftables rule declaration belonging to a group.
// Action holds the verdict label ("accept", "drop", "masquerade") and is
// persisted in the rule_type column.
type FirewallRule struct {
	ID          int64
	GroupID     int64
	Chain       string
	Action      string
	Family      int32
	Proto       string
	DPort       int32
	SPort       int32
	Source      string
	Destination string
	InIface     string
	OutIface    string
	StateMatch  string
	Comment     string
	Position    int32
	Applied     bool
	NftHandle   int64
	CreatedAt   int64
}

// RoutingRule is a single policy-routing rule or route belonging to a group.
type RoutingRule struct {
	ID          int64
	GroupID     int64
	RuleType    string
	FromNetwork string
	ToNetwork   string
	TableName   string
	TableID     int32
	Priority    int32
	Destination string
	Device      string
	FwMark      int32
	Applied     bool
	CreatedAt   int64
}
