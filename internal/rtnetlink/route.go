// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package rtnetlink

import (
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	brerr "phantomd.dev/bridge/internal/errors"
)

const rtTablesPath = "/etc/iproute2/rt_tables"

// parseNetwork splits "10.66.66.0/24" into its IPv4 address and prefix
// length. Only IPv4 is accepted — see the IPv4-only note on the package
// doc comment.
func parseNetwork(network string) (net.IP, uint8, error) {
	parts := strings.SplitN(network, "/", 2)
	if len(parts) != 2 {
		return nil, 0, brerr.Errorf(brerr.InvalidParam, "invalid network format %q", network)
	}
	ip := net.ParseIP(parts[0]).To4()
	if ip == nil {
		return nil, 0, brerr.Errorf(brerr.InvalidParam, "invalid IPv4 address %q", parts[0])
	}
	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 || prefix > 32 {
		return nil, 0, brerr.Errorf(brerr.InvalidParam, "invalid prefix length %q", parts[1])
	}
	return ip, uint8(prefix), nil
}

// ifNametoIndex resolves an interface name to its kernel index.
func ifNametoIndex(name string) (uint32, error) {
	idx, err := unix.IfNametoindex(name)
	if err != nil {
		return 0, brerr.Wrapf(err, brerr.InvalidParam, "interface not found: %s", name)
	}
	return idx, nil
}

// ResolveTable maps a routing-table name to its numeric id: the four
// well-known names resolve without I/O, a purely numeric string parses
// directly, otherwise /etc/iproute2/rt_tables is consulted.
func ResolveTable(tableName string) (uint32, error) {
	switch tableName {
	case "default":
		return 253, nil
	case "main":
		return 254, nil
	case "local":
		return 255, nil
	case "unspec":
		return 0, nil
	}

	if n, err := strconv.ParseUint(tableName, 10, 32); err == nil {
		return uint32(n), nil
	}

	content, err := os.ReadFile(rtTablesPath)
	if err != nil {
		return 0, brerr.Wrapf(err, brerr.IoError, "cannot read %s", rtTablesPath)
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == tableName {
			id, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return 0, brerr.Wrapf(err, brerr.InvalidParam, "invalid table id in %s", rtTablesPath)
			}
			return uint32(id), nil
		}
	}
	return 0, brerr.Errorf(brerr.InvalidParam, "routing table not found: %s", tableName)
}

// EnsureTable appends "<id> <name>" to /etc/iproute2/rt_tables if that
// exact pair is not already present.
func EnsureTable(tableID uint32, tableName string) error {
	idStr := strconv.FormatUint(uint64(tableID), 10)

	content, err := os.ReadFile(rtTablesPath)
	if err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] == idStr && fields[1] == tableName {
				return nil
			}
		}
	}

	f, err := os.OpenFile(rtTablesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return brerr.Wrapf(err, brerr.IoError, "cannot open %s", rtTablesPath)
	}
	defer f.Close()
	if _, err := f.WriteString(idStr + " " + tableName + "\n"); err != nil {
		return brerr.Wrapf(err, brerr.IoError, "cannot write %s", rtTablesPath)
	}
	return nil
}

// buildFibRuleMsg assembles a RTM_NEWRULE/RTM_DELRULE request.
func buildFibRuleMsg(msgType uint16, flags uint16, seq uint32, fromAddr net.IP, fromPrefix uint8, toAddr net.IP, toPrefix uint8, hasTo bool, tableID, priority uint32) []byte {
	buf := make([]byte, nlmsgHdrLen, 128)

	fib := make([]byte, fibRuleHdrLen)
	fib[0] = unix.AF_INET // family
	fib[1] = 0            // dst_len, patched below if hasTo
	fib[2] = fromPrefix   // src_len
	fib[3] = 0            // tos
	if tableID <= 255 {
		fib[4] = byte(tableID)
	}
	fib[7] = frActToTbl // action
	buf = append(buf, fib...)

	buf = pushAttr(buf, fraSrc, fromAddr.To4())

	if hasTo {
		buf = pushAttr(buf, fraDst, toAddr.To4())
		buf[nlmsgHdrLen+1] = toPrefix // dst_len lives at offset 1 of FibRuleHdr
	}

	if tableID > 255 {
		buf = pushAttrU32(buf, fraTable, tableID)
	}
	buf = pushAttrU32(buf, fraPriority, priority)

	fillHeader(buf, msgType, flags, seq)
	return buf
}

// PolicyAdd installs a FIB rule: from <fromNetwork> [to <toNetwork>]
// table <tableName> priority <priority>.
func PolicyAdd(fromNetwork, toNetwork, tableName string, priority uint32) error {
	return policyOp(rtmNewRule, nlmFRequest|nlmFAck|nlmFCreate|nlmFExcl, fromNetwork, toNetwork, tableName, priority)
}

// PolicyDelete removes a previously-installed FIB rule.
func PolicyDelete(fromNetwork, toNetwork, tableName string, priority uint32) error {
	return policyOp(rtmDelRule, nlmFRequest|nlmFAck, fromNetwork, toNetwork, tableName, priority)
}

func policyOp(msgType, flags uint16, fromNetwork, toNetwork, tableName string, priority uint32) error {
	sock, err := openSocket()
	if err != nil {
		return err
	}
	defer sock.close()
	seq := sock.nextSeq()

	tableID, err := ResolveTable(tableName)
	if err != nil {
		return err
	}
	fromAddr, fromPrefix, err := parseNetwork(fromNetwork)
	if err != nil {
		return err
	}

	var toAddr net.IP
	var toPrefix uint8
	hasTo := toNetwork != ""
	if hasTo {
		toAddr, toPrefix, err = parseNetwork(toNetwork)
		if err != nil {
			return err
		}
	}

	buf := buildFibRuleMsg(msgType, flags, seq, fromAddr, fromPrefix, toAddr, toPrefix, hasTo, tableID, priority)
	return sock.sendAndAck(buf)
}

// buildRouteMsg assembles a RTM_NEWROUTE/RTM_DELROUTE request.
func buildRouteMsg(msgType uint16, flags uint16, seq uint32, dstAddr net.IP, dstPrefix uint8, ifindex, tableID uint32) []byte {
	buf := make([]byte, nlmsgHdrLen, 128)

	rtm := make([]byte, rtMsgHdrLen)
	rtm[0] = unix.AF_INET // rtm_family
	rtm[1] = dstPrefix    // rtm_dst_len
	rtm[2] = 0            // rtm_src_len
	rtm[3] = 0            // rtm_tos
	if tableID <= 255 {
		rtm[4] = byte(tableID) // rtm_table
	}
	rtm[5] = rtprotStatic // rtm_protocol
	if dstPrefix == 0 {
		rtm[6] = rtScopeUniv
	} else {
		rtm[6] = rtScopeLink
	}
	rtm[7] = rtnUnicast // rtm_type
	buf = append(buf, rtm...)

	if dstPrefix > 0 {
		buf = pushAttr(buf, rtaDst, dstAddr.To4())
	}
	buf = pushAttrU32(buf, rtaOif, ifindex)
	if tableID > 255 {
		buf = pushAttrU32(buf, rtaTable, tableID)
	}

	fillHeader(buf, msgType, flags, seq)
	return buf
}

// RouteAdd installs a route: <destination> dev <device> table <tableName>.
// "default" or "0.0.0.0/0" installs the default route.
func RouteAdd(destination, device, tableName string) error {
	return routeOp(rtmNewRoute, nlmFRequest|nlmFAck|nlmFCreate|nlmFExcl, destination, device, tableName)
}

// RouteDelete removes a previously-installed route.
func RouteDelete(destination, device, tableName string) error {
	return routeOp(rtmDelRoute, nlmFRequest|nlmFAck, destination, device, tableName)
}

func routeOp(msgType, flags uint16, destination, device, tableName string) error {
	sock, err := openSocket()
	if err != nil {
		return err
	}
	defer sock.close()
	seq := sock.nextSeq()

	tableID, err := ResolveTable(tableName)
	if err != nil {
		return err
	}
	ifindex, err := ifNametoIndex(device)
	if err != nil {
		return err
	}

	var dstAddr net.IP
	var dstPrefix uint8
	if destination == "default" || destination == "0.0.0.0/0" {
		dstAddr, dstPrefix = net.IPv4(0, 0, 0, 0), 0
	} else {
		dstAddr, dstPrefix, err = parseNetwork(destination)
		if err != nil {
			return err
		}
	}

	buf := buildRouteMsg(msgType, flags, seq, dstAddr, dstPrefix, ifindex, tableID)
	return sock.sendAndAck(buf)
}

// FlushCache is a best-effort write to the (possibly removed on modern
// kernels) route-cache flush knob.
func FlushCache() error {
	_ = os.WriteFile("/proc/sys/net/ipv4/route/flush", []byte("1"), 0644)
	return nil
}

// EnableIPForward enables IPv4 forwarding system-wide.
func EnableIPForward() error {
	if err := os.WriteFile("/proc/sys/net/ipv4/ip_forward", []byte("1"), 0644); err != nil {
		return brerr.Wrap(err, brerr.IoError, "enable ip_forward")
	}
	return nil
}
