// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Package rtnetlink drives the kernel's policy-routing tables directly
// over a raw NETLINK_ROUTE socket — no ip binary, no subprocess. It
// implements the narrow slice of the protocol the bridge needs: FIB
// rule add/delete and route add/delete.
//
// Only IPv4 is handled: every fixed header carries AF_INET and every
// address is parsed as IPv4. IPv6 policy rules and routes are not
// supported.
package rtnetlink

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	brerr "phantomd.dev/bridge/internal/errors"
)

// Netlink message types, from linux/rtnetlink.h.
const (
	rtmNewRoute = 24
	rtmDelRoute = 25
	rtmNewRule  = 32
	rtmDelRule  = 33
)

// Request flags.
const (
	nlmFRequest = 0x0001
	nlmFAck     = 0x0004
	nlmFCreate  = 0x0400
	nlmFExcl    = 0x0200
)

// Route/rule attribute types.
const (
	rtaDst      = 1
	rtaOif      = 4
	rtaTable    = 15
	fraSrc      = 2
	fraDst      = 1
	fraTable    = 15
	fraPriority = 6
)

// Route types, protocols, scopes, FIB actions.
const (
	rtnUnicast     = 1
	rtprotStatic   = 4
	rtScopeUniv    = 0
	rtScopeLink    = 253
	frActToTbl     = 1
	nlmsgHdrLen    = 16
	fibRuleHdrLen  = 12
	rtMsgHdrLen    = 12
	rtAttrHdrLen   = 4
	nlmsgErrorType = 2 // NLMSG_ERROR
)

// socket is a bound, sequence-tracking handle onto NETLINK_ROUTE.
type socket struct {
	fd  int
	seq uint32
}

// openSocket opens and binds a raw routing-netlink socket, letting the
// kernel assign the port id.
func openSocket() (*socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		if err == unix.EPERM {
			return nil, brerr.Wrap(err, brerr.PermissionDenied, "open routing netlink socket")
		}
		return nil, brerr.Wrap(err, brerr.NetlinkFailed, "open routing netlink socket")
	}
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, brerr.Wrap(err, brerr.NetlinkFailed, "bind routing netlink socket")
	}
	return &socket{fd: fd, seq: 1}, nil
}

func (s *socket) close() {
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
}

func (s *socket) nextSeq() uint32 {
	seq := s.seq
	s.seq++
	return seq
}

// sendAndAck writes a request and reads back one ACK, translating a
// non-zero netlink error payload into an OS error.
func (s *socket) sendAndAck(buf []byte) error {
	if _, err := unix.Write(s.fd, buf); err != nil {
		return brerr.Wrap(err, brerr.NetlinkFailed, "netlink send")
	}

	reply := make([]byte, 4096)
	n, err := unix.Read(s.fd, reply)
	if err != nil {
		return brerr.Wrap(err, brerr.NetlinkFailed, "netlink recv")
	}
	if n < nlmsgHdrLen {
		return brerr.Errorf(brerr.NetlinkFailed, "netlink reply too short (%d bytes)", n)
	}

	msgType := binary.NativeEndian.Uint16(reply[4:6])
	if msgType == nlmsgErrorType {
		if n < nlmsgHdrLen+4 {
			return brerr.New(brerr.NetlinkFailed, "netlink error reply missing payload")
		}
		errno := int32(binary.NativeEndian.Uint32(reply[nlmsgHdrLen : nlmsgHdrLen+4]))
		if errno != 0 {
			return brerr.Errorf(brerr.NetlinkFailed, "netlink error: %v", unix.Errno(uintptr(-errno)))
		}
	}
	return nil
}

// --- message builder helpers --------------------------------------------

func align4(n int) int {
	return (n + 3) &^ 3
}

func putU16(buf []byte, off int, v uint16) {
	binary.NativeEndian.PutUint16(buf[off:], v)
}

func putU32(buf []byte, off int, v uint32) {
	binary.NativeEndian.PutUint32(buf[off:], v)
}

// pushAttr appends a 4-byte-aligned rtattr (len, type, value...) to buf.
func pushAttr(buf []byte, rtaType uint16, data []byte) []byte {
	rtaLen := rtAttrHdrLen + len(data)
	head := make([]byte, rtAttrHdrLen)
	putU16(head, 0, uint16(rtaLen))
	putU16(head, 2, rtaType)
	buf = append(buf, head...)
	buf = append(buf, data...)
	padded := align4(rtaLen)
	for i := rtaLen; i < padded; i++ {
		buf = append(buf, 0)
	}
	return buf
}

func pushAttrU32(buf []byte, rtaType uint16, val uint32) []byte {
	data := make([]byte, 4)
	binary.NativeEndian.PutUint32(data, val)
	return pushAttr(buf, rtaType, data)
}

// fillHeader backfills the reserved nlmsghdr at the front of buf once its
// final length is known.
func fillHeader(buf []byte, msgType uint16, flags uint16, seq uint32) {
	putU32(buf, 0, uint32(len(buf)))
	putU16(buf, 4, msgType)
	putU16(buf, 6, flags)
	putU32(buf, 8, seq)
	putU32(buf, 12, 0) // pid: let kernel fill in the response's context
}
