// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package nftadapter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
)

const ifnamsiz = 16

// Conntrack state bits, per linux/netfilter/nf_conntrack_common.h.
const (
	ctStateInvalid     = 0x01
	ctStateEstablished = 0x02
	ctStateRelated     = 0x04
	ctStateNew         = 0x08
)

func protocolNumber(proto string) (byte, bool) {
	switch strings.ToLower(proto) {
	case "tcp":
		return 6, true
	case "udp":
		return 17, true
	case "icmp":
		return 1, true
	case "icmpv6":
		return 58, true
	default:
		return 0, false
	}
}

// buildExprs assembles the match-fragment pipeline in the declared order:
// source CIDR, destination CIDR, transport+port, in-iface, out-iface,
// conntrack state, then the terminal action.
func buildExprs(spec RuleSpec) ([]expr.Any, error) {
	var exprs []expr.Any

	if e, err := cidrMatchExprs(spec.Source, spec.Family, true); err != nil {
		return nil, err
	} else {
		exprs = append(exprs, e...)
	}

	if e, err := cidrMatchExprs(spec.Destination, spec.Family, false); err != nil {
		return nil, err
	} else {
		exprs = append(exprs, e...)
	}

	exprs = append(exprs, transportPortExprs(spec.Proto, spec.DPort, spec.SPort)...)

	if spec.InIface != "" {
		exprs = append(exprs, ifaceMatchExpr(expr.MetaKeyIIFNAME, spec.InIface)...)
	}
	if spec.OutIface != "" {
		exprs = append(exprs, ifaceMatchExpr(expr.MetaKeyOIFNAME, spec.OutIface)...)
	}

	if e, err := stateMatchExprs(spec.StateMatch); err != nil {
		return nil, err
	} else {
		exprs = append(exprs, e...)
	}

	actionExprs, err := terminalExprs(spec.Action)
	if err != nil {
		return nil, err
	}
	exprs = append(exprs, actionExprs...)

	return exprs, nil
}

// cidrMatchExprs builds a family-qualified network-header match. Family 2
// selects the IPv4 header layout, 10 selects IPv6. An empty or "any" CIDR
// contributes no expressions.
func cidrMatchExprs(cidr string, family int32, isSource bool) ([]expr.Any, error) {
	if cidr == "" || cidr == "0.0.0.0/0" || cidr == "::/0" {
		return nil, nil
	}

	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		bare := net.ParseIP(cidr)
		if bare == nil {
			return nil, fmt.Errorf("invalid CIDR %q", cidr)
		}
		bits := 32
		if family == 10 {
			bits = 128
		}
		ip = bare
		ipNet = &net.IPNet{IP: bare, Mask: net.CIDRMask(bits, bits)}
	}

	var offset uint32
	var length uint32
	var addr []byte
	var mask []byte

	if family == 10 {
		addr = ip.To16()
		if addr == nil {
			return nil, fmt.Errorf("not an IPv6 address: %s", cidr)
		}
		length = 16
		if isSource {
			offset = 8
		} else {
			offset = 24
		}
		mask = padMask(ipNet.Mask, 16)
	} else {
		addr = ip.To4()
		if addr == nil {
			return nil, fmt.Errorf("not an IPv4 address: %s", cidr)
		}
		length = 4
		if isSource {
			offset = 12
		} else {
			offset = 16
		}
		mask = padMask(ipNet.Mask, 4)
	}

	masked := make([]byte, length)
	for i := range masked {
		masked[i] = addr[i] & mask[i]
	}

	nfProto := expr.Any(&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1})
	protoByte := byte(2) // NFPROTO_IPV4
	if family == 10 {
		protoByte = 10 // NFPROTO_IPV6
	}

	return []expr.Any{
		nfProto,
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{protoByte}},
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: offset, Len: length},
		&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: length, Mask: mask, Xor: make([]byte, length)},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: masked},
	}, nil
}

func padMask(mask net.IPMask, length int) []byte {
	if len(mask) == length {
		return []byte(mask)
	}
	out := make([]byte, length)
	copy(out, mask)
	return out
}

// transportPortExprs matches an explicit protocol and destination/source
// port, mirroring `<proto> dport <N>` / `<proto> sport <N>`.
func transportPortExprs(proto string, dport, sport int32) []expr.Any {
	if proto == "" {
		return nil
	}
	num, ok := protocolNumber(proto)
	if !ok {
		return nil
	}

	exprs := []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{num}},
	}

	if dport > 0 {
		exprs = append(exprs,
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: uint16BE(uint16(dport))},
		)
	}
	if sport > 0 {
		exprs = append(exprs,
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 0, Len: 2},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: uint16BE(uint16(sport))},
		)
	}
	return exprs
}

func uint16BE(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// ifaceMatchExpr matches an interface name, padded to IFNAMSIZ as the
// kernel expects.
func ifaceMatchExpr(key expr.MetaKey, iface string) []expr.Any {
	b := make([]byte, ifnamsiz)
	copy(b, iface)
	return []expr.Any{
		&expr.Meta{Key: key, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: b},
	}
}

// stateMatchExprs matches a comma-separated conntrack state list, e.g.
// "established,related".
func stateMatchExprs(states string) ([]expr.Any, error) {
	if states == "" {
		return nil, nil
	}
	var mask uint32
	for _, s := range strings.Split(states, ",") {
		switch strings.TrimSpace(strings.ToLower(s)) {
		case "established":
			mask |= ctStateEstablished
		case "related":
			mask |= ctStateRelated
		case "new":
			mask |= ctStateNew
		case "invalid":
			mask |= ctStateInvalid
		case "":
			// ignore stray commas
		default:
			return nil, fmt.Errorf("unknown conntrack state %q", s)
		}
	}
	if mask == 0 {
		return nil, nil
	}
	maskBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(maskBytes, mask)
	return []expr.Any{
		&expr.Ct{Register: 1, Key: expr.CtKeySTATE},
		&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4, Mask: maskBytes, Xor: []byte{0, 0, 0, 0}},
		&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: []byte{0, 0, 0, 0}},
	}, nil
}

// terminalExprs returns the verdict/masquerade expression(s) for an action
// label.
func terminalExprs(action string) ([]expr.Any, error) {
	switch strings.ToLower(action) {
	case "accept":
		return []expr.Any{&expr.Counter{}, &expr.Verdict{Kind: expr.VerdictAccept}}, nil
	case "drop":
		return []expr.Any{&expr.Counter{}, &expr.Verdict{Kind: expr.VerdictDrop}}, nil
	case "masquerade":
		return []expr.Any{&expr.Counter{}, &expr.Masq{}}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

// projectRule extracts the fields the drift detector and structural
// lookup need from a live kernel rule, without attempting a full decode.
func projectRule(chain string, r *nftables.Rule) DumpedRule {
	d := DumpedRule{Chain: chain, Handle: r.Handle, Comment: string(r.UserData)}

	for i, e := range r.Exprs {
		switch v := e.(type) {
		case *expr.Cmp:
			if len(v.Data) == 1 && i > 0 {
				if m, ok := r.Exprs[i-1].(*expr.Meta); ok {
					switch m.Key {
					case expr.MetaKeyNFPROTO:
						d.Family = int32(v.Data[0])
					case expr.MetaKeyL4PROTO:
						d.Proto = protoName(v.Data[0])
					}
				}
			}
			if len(v.Data) == 2 && i > 0 {
				if p, ok := r.Exprs[i-1].(*expr.Payload); ok && p.Base == expr.PayloadBaseTransportHeader && p.Offset == 2 {
					d.DPort = int32(binary.BigEndian.Uint16(v.Data))
				}
			}
		case *expr.Verdict:
			d.HasAction = true
		case *expr.Masq:
			d.HasAction = true
		}
	}
	return d
}

func protoName(n byte) string {
	switch n {
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 1:
		return "icmp"
	case 58:
		return "icmpv6"
	default:
		return ""
	}
}

// isPermissionErr reports whether err indicates the process lacks the
// administrative network capability to open a netlink socket.
func isPermissionErr(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
