// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store is the SQLite persistence layer for the bridge: process
// config, rule groups, and the firewall/routing rules that belong to them.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	brerr "phantomd.dev/bridge/internal/errors"
)

const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	state TEXT NOT NULL DEFAULT 'initialized',
	ip_forward_enabled INTEGER NOT NULL DEFAULT 0,
	ipv6_blocked INTEGER NOT NULL DEFAULT 0,
	kill_switch_active INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rule_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	group_type TEXT NOT NULL DEFAULT 'custom',
	enabled INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 100,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS firewall_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL REFERENCES rule_groups(id) ON DELETE CASCADE,
	chain TEXT NOT NULL,
	rule_type TEXT NOT NULL,
	family INTEGER NOT NULL DEFAULT 2,
	proto TEXT NOT NULL DEFAULT '',
	dport INTEGER NOT NULL DEFAULT 0,
	sport INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	destination TEXT NOT NULL DEFAULT '',
	in_iface TEXT NOT NULL DEFAULT '',
	out_iface TEXT NOT NULL DEFAULT '',
	state_match TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL DEFAULT 0,
	applied INTEGER NOT NULL DEFAULT 0,
	nft_handle INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL REFERENCES rule_groups(id) ON DELETE CASCADE,
	rule_type TEXT NOT NULL,
	from_network TEXT NOT NULL DEFAULT '',
	to_network TEXT NOT NULL DEFAULT '',
	table_name TEXT NOT NULL DEFAULT '',
	table_id INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 0,
	destination TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	fwmark INTEGER NOT NULL DEFAULT 0,
	applied INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fw_group ON firewall_rules(group_id);
CREATE INDEX IF NOT EXISTS idx_fw_applied ON firewall_rules(applied);
CREATE INDEX IF NOT EXISTS idx_rt_group ON routing_rules(group_id);
CREATE INDEX IF NOT EXISTS idx_rt_applied ON routing_rules(applied);
CREATE INDEX IF NOT EXISTS idx_rg_enabled ON rule_groups(enabled);
CREATE INDEX IF NOT EXISTS idx_rg_type ON rule_groups(group_type);
`

// allowedConfigFlags whitelists the config columns settable via
// SetConfigFlag, closing off arbitrary column injection.
var allowedConfigFlags = map[string]bool{
	"ip_forward_enabled": true,
	"ipv6_blocked":        true,
	"kill_switch_active":  true,
}

func now() int64 {
	return time.Now().Unix()
}

// Options configures Open.
type Options struct {
	Path string
}

// DefaultOptions returns Options pointing at path. The bridge's usual
// pragmas (WAL journaling, a 5s busy timeout) are added by Open for
// file-backed paths; ":memory:" only gets foreign-key enforcement.
func DefaultOptions(path string) Options {
	return Options{Path: path}
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at opts.Path and
// runs any pending schema migration.
func Open(opts Options) (*Store, error) {
	dsn := opts.Path
	if dsn == ":memory:" {
		dsn = dsn + "?_pragma=foreign_keys(1)"
	} else {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dsn)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, brerr.Wrapf(err, brerr.DbOpen, "open %s", opts.Path)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return brerr.Wrap(err, brerr.DbQuery, "read user_version")
	}
	if version >= schemaVersion {
		return nil
	}
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "schema migration")
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "set user_version")
	}
	return nil
}

// ---- Config ----

// InitConfig inserts the singleton config row if it does not already exist.
func (s *Store) InitConfig() error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO config (id, updated_at) VALUES (1, ?)", now())
	if err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "init config")
	}
	return nil
}

// GetConfig returns the singleton config row.
func (s *Store) GetConfig() (Config, error) {
	var c Config
	var ipFwd, ipv6Blk, killSw int
	err := s.db.QueryRow(
		"SELECT state, ip_forward_enabled, ipv6_blocked, kill_switch_active, updated_at FROM config WHERE id = 1",
	).Scan(&c.State, &ipFwd, &ipv6Blk, &killSw, &c.UpdatedAt)
	if err != nil {
		return Config{}, brerr.Wrap(err, brerr.DbQuery, "get config")
	}
	c.IPForwardEnabled = ipFwd != 0
	c.IPv6Blocked = ipv6Blk != 0
	c.KillSwitchActive = killSw != 0
	return c, nil
}

// SetState updates the persisted lifecycle state string.
func (s *Store) SetState(state string) error {
	_, err := s.db.Exec("UPDATE config SET state = ?, updated_at = ? WHERE id = 1", state, now())
	if err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "set state")
	}
	return nil
}

// SetConfigFlag flips a named boolean config column. Only a fixed
// whitelist of columns is accepted.
func (s *Store) SetConfigFlag(column string, value bool) error {
	if !allowedConfigFlags[column] {
		return brerr.Errorf(brerr.InvalidParam, "unknown config column: %s", column)
	}
	sqlStmt := fmt.Sprintf("UPDATE config SET %s = ?, updated_at = ? WHERE id = 1", column)
	v := 0
	if value {
		v = 1
	}
	if _, err := s.db.Exec(sqlStmt, v, now()); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "set config flag")
	}
	return nil
}

// ---- Rule groups ----

const ruleGroupColumns = "id, name, group_type, enabled, priority, metadata, created_at, updated_at"

func scanRuleGroup(row interface {
	Scan(dest ...any) error
}) (RuleGroup, error) {
	var g RuleGroup
	var enabled int
	if err := row.Scan(&g.ID, &g.Name, &g.GroupType, &enabled, &g.Priority, &g.Metadata, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return RuleGroup{}, err
	}
	g.Enabled = enabled != 0
	return g, nil
}

// CreateRuleGroup inserts a new rule group and returns the stored row.
func (s *Store) CreateRuleGroup(name, groupType string, priority int32, metadata string) (RuleGroup, error) {
	ts := now()
	_, err := s.db.Exec(
		`INSERT INTO rule_groups (name, group_type, priority, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, groupType, priority, metadata, ts, ts,
	)
	if err != nil {
		return RuleGroup{}, brerr.Wrapf(err, brerr.DbWrite, "create rule group %s", name)
	}
	return s.GetRuleGroup(name)
}

// GetRuleGroup looks up a rule group by name.
func (s *Store) GetRuleGroup(name string) (RuleGroup, error) {
	row := s.db.QueryRow("SELECT "+ruleGroupColumns+" FROM rule_groups WHERE name = ?", name)
	g, err := scanRuleGroup(row)
	if err != nil {
		return RuleGroup{}, brerr.Wrapf(brerr.New(brerr.GroupNotFound, "rule group not found"), brerr.GroupNotFound, "get rule group %s", name)
	}
	return g, nil
}

// GetRuleGroupByID looks up a rule group by id.
func (s *Store) GetRuleGroupByID(id int64) (RuleGroup, error) {
	row := s.db.QueryRow("SELECT "+ruleGroupColumns+" FROM rule_groups WHERE id = ?", id)
	g, err := scanRuleGroup(row)
	if err != nil {
		return RuleGroup{}, brerr.Errorf(brerr.GroupNotFound, "rule group %d not found", id)
	}
	return g, nil
}

// ListRuleGroups returns all rule groups ordered by priority, then name.
func (s *Store) ListRuleGroups() ([]RuleGroup, error) {
	rows, err := s.db.Query("SELECT " + ruleGroupColumns + " FROM rule_groups ORDER BY priority, name")
	if err != nil {
		return nil, brerr.Wrap(err, brerr.DbQuery, "list rule groups")
	}
	defer rows.Close()
	return collectRuleGroups(rows)
}

// EnabledGroups returns the subset of rule groups with enabled = true.
func (s *Store) EnabledGroups() ([]RuleGroup, error) {
	rows, err := s.db.Query("SELECT " + ruleGroupColumns + " FROM rule_groups WHERE enabled = 1 ORDER BY priority, name")
	if err != nil {
		return nil, brerr.Wrap(err, brerr.DbQuery, "enabled groups")
	}
	defer rows.Close()
	return collectRuleGroups(rows)
}

func collectRuleGroups(rows *sql.Rows) ([]RuleGroup, error) {
	var out []RuleGroup
	for rows.Next() {
		g, err := scanRuleGroup(rows)
		if err != nil {
			return nil, brerr.Wrap(err, brerr.DbQuery, "scan rule group")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetGroupEnabled toggles a rule group's enabled flag.
func (s *Store) SetGroupEnabled(name string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := s.db.Exec("UPDATE rule_groups SET enabled = ?, updated_at = ? WHERE name = ?", v, now(), name)
	if err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "set group enabled")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return brerr.Errorf(brerr.GroupNotFound, "rule group not found: %s", name)
	}
	return nil
}

// DeleteRuleGroup removes a rule group; its rules cascade-delete.
func (s *Store) DeleteRuleGroup(name string) error {
	res, err := s.db.Exec("DELETE FROM rule_groups WHERE name = ?", name)
	if err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "delete rule group")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return brerr.Errorf(brerr.GroupNotFound, "rule group not found: %s", name)
	}
	return nil
}

// ---- Firewall rules ----

const firewallRuleColumns = "id, group_id, chain, rule_type, family, proto, dport, sport, source, destination, in_iface, out_iface, state_match, comment, position, applied, nft_handle, created_at"

func scanFirewallRule(row interface {
	Scan(dest ...any) error
}) (FirewallRule, error) {
	var r FirewallRule
	var applied int
	err := row.Scan(
		&r.ID, &r.GroupID, &r.Chain, &r.Action, &r.Family, &r.Proto, &r.DPort, &r.SPort,
		&r.Source, &r.Destination, &r.InIface, &r.OutIface, &r.StateMatch, &r.Comment,
		&r.Position, &applied, &r.NftHandle, &r.CreatedAt,
	)
	if err != nil {
		return FirewallRule{}, err
	}
	r.Applied = applied != 0
	return r, nil
}

// InsertFirewallRule inserts a new rule row and returns its id.
func (s *Store) InsertFirewallRule(r FirewallRule) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO firewall_rules
		 (group_id, chain, rule_type, family, proto, dport, sport,
		  source, destination, in_iface, out_iface, state_match,
		  comment, position, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.GroupID, r.Chain, r.Action, r.Family, r.Proto, r.DPort, r.SPort,
		r.Source, r.Destination, r.InIface, r.OutIface, r.StateMatch,
		r.Comment, r.Position, now(),
	)
	if err != nil {
		return 0, brerr.Wrap(err, brerr.DbWrite, "insert firewall rule")
	}
	return res.LastInsertId()
}

// UpdateFwRuleApplied marks a firewall rule applied/unapplied and records
// the kernel rule handle assigned by nftables.
func (s *Store) UpdateFwRuleApplied(ruleID int64, applied bool, nftHandle int64) error {
	v := 0
	if applied {
		v = 1
	}
	_, err := s.db.Exec("UPDATE firewall_rules SET applied = ?, nft_handle = ? WHERE id = ?", v, nftHandle, ruleID)
	if err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "update firewall rule applied state")
	}
	return nil
}

// DeleteFirewallRule removes a firewall rule row.
func (s *Store) DeleteFirewallRule(ruleID int64) error {
	if _, err := s.db.Exec("DELETE FROM firewall_rules WHERE id = ?", ruleID); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "delete firewall rule")
	}
	return nil
}

// FirewallRulesForGroup returns a group's rules ordered by position.
func (s *Store) FirewallRulesForGroup(groupID int64) ([]FirewallRule, error) {
	rows, err := s.db.Query("SELECT "+firewallRuleColumns+" FROM firewall_rules WHERE group_id = ? ORDER BY position, id", groupID)
	if err != nil {
		return nil, brerr.Wrap(err, brerr.DbQuery, "firewall rules for group")
	}
	defer rows.Close()
	return collectFirewallRules(rows)
}

// AllFirewallRules returns every firewall rule, grouped then ordered.
func (s *Store) AllFirewallRules() ([]FirewallRule, error) {
	rows, err := s.db.Query("SELECT " + firewallRuleColumns + " FROM firewall_rules ORDER BY group_id, position, id")
	if err != nil {
		return nil, brerr.Wrap(err, brerr.DbQuery, "all firewall rules")
	}
	defer rows.Close()
	return collectFirewallRules(rows)
}

// AppliedFirewallRules returns the rules currently marked applied.
func (s *Store) AppliedFirewallRules() ([]FirewallRule, error) {
	rows, err := s.db.Query("SELECT " + firewallRuleColumns + " FROM firewall_rules WHERE applied = 1 ORDER BY group_id, position")
	if err != nil {
		return nil, brerr.Wrap(err, brerr.DbQuery, "applied firewall rules")
	}
	defer rows.Close()
	return collectFirewallRules(rows)
}

// ClearFwAppliedState resets every firewall rule's applied flag and handle.
// Used after a flush or on reconciliation from a clean kernel state.
func (s *Store) ClearFwAppliedState() error {
	if _, err := s.db.Exec("UPDATE firewall_rules SET applied = 0, nft_handle = 0"); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "clear firewall applied state")
	}
	return nil
}

func collectFirewallRules(rows *sql.Rows) ([]FirewallRule, error) {
	var out []FirewallRule
	for rows.Next() {
		r, err := scanFirewallRule(rows)
		if err != nil {
			return nil, brerr.Wrap(err, brerr.DbQuery, "scan firewall rule")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- Routing rules ----

const routingRuleColumns = "id, group_id, rule_type, from_network, to_network, table_name, table_id, priority, destination, device, fwmark, applied, created_at"

func scanRoutingRule(row interface {
	Scan(dest ...any) error
}) (RoutingRule, error) {
	var r RoutingRule
	var applied int
	err := row.Scan(
		&r.ID, &r.GroupID, &r.RuleType, &r.FromNetwork, &r.ToNetwork, &r.TableName,
		&r.TableID, &r.Priority, &r.Destination, &r.Device, &r.FwMark, &applied, &r.CreatedAt,
	)
	if err != nil {
		return RoutingRule{}, err
	}
	r.Applied = applied != 0
	return r, nil
}

// InsertRoutingRule inserts a new routing rule row and returns its id.
func (s *Store) InsertRoutingRule(r RoutingRule) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO routing_rules
		 (group_id, rule_type, from_network, to_network, table_name,
		  table_id, priority, destination, device, fwmark, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.GroupID, r.RuleType, r.FromNetwork, r.ToNetwork, r.TableName,
		r.TableID, r.Priority, r.Destination, r.Device, r.FwMark, now(),
	)
	if err != nil {
		return 0, brerr.Wrap(err, brerr.DbWrite, "insert routing rule")
	}
	return res.LastInsertId()
}

// UpdateRtRuleApplied marks a routing rule applied/unapplied.
func (s *Store) UpdateRtRuleApplied(ruleID int64, applied bool) error {
	v := 0
	if applied {
		v = 1
	}
	if _, err := s.db.Exec("UPDATE routing_rules SET applied = ? WHERE id = ?", v, ruleID); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "update routing rule applied state")
	}
	return nil
}

// DeleteRoutingRule removes a routing rule row.
func (s *Store) DeleteRoutingRule(ruleID int64) error {
	if _, err := s.db.Exec("DELETE FROM routing_rules WHERE id = ?", ruleID); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "delete routing rule")
	}
	return nil
}

// RoutingRulesForGroup returns a group's routing rules.
func (s *Store) RoutingRulesForGroup(groupID int64) ([]RoutingRule, error) {
	rows, err := s.db.Query("SELECT "+routingRuleColumns+" FROM routing_rules WHERE group_id = ? ORDER BY id", groupID)
	if err != nil {
		return nil, brerr.Wrap(err, brerr.DbQuery, "routing rules for group")
	}
	defer rows.Close()
	return collectRoutingRules(rows)
}

// AllRoutingRules returns every routing rule, regardless of group or
// applied state — used by status reporting to resolve the declared
// total independently of the applied count.
func (s *Store) AllRoutingRules() ([]RoutingRule, error) {
	rows, err := s.db.Query("SELECT " + routingRuleColumns + " FROM routing_rules ORDER BY group_id, id")
	if err != nil {
		return nil, brerr.Wrap(err, brerr.DbQuery, "all routing rules")
	}
	defer rows.Close()
	return collectRoutingRules(rows)
}

// AppliedRoutingRules returns the routing rules currently marked applied.
func (s *Store) AppliedRoutingRules() ([]RoutingRule, error) {
	rows, err := s.db.Query("SELECT " + routingRuleColumns + " FROM routing_rules WHERE applied = 1 ORDER BY group_id, id")
	if err != nil {
		return nil, brerr.Wrap(err, brerr.DbQuery, "applied routing rules")
	}
	defer rows.Close()
	return collectRoutingRules(rows)
}

// ClearRtAppliedState resets every routing rule's applied flag.
func (s *Store) ClearRtAppliedState() error {
	if _, err := s.db.Exec("UPDATE routing_rules SET applied = 0"); err != nil {
		return brerr.Wrap(err, brerr.DbWrite, "clear routing applied state")
	}
	return nil
}

func collectRoutingRules(rows *sql.Rows) ([]RoutingRule, error) {
	var out []RoutingRule
	for rows.Next() {
		r, err := scanRoutingRule(rows)
		if err != nil {
			return nil, brerr.Wrap(err, brerr.DbQuery, "scan routing rule")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
