// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(InvalidParam, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, DbWrite, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}
}

func TestCodeOf(t *testing.T) {
	err := New(InvalidParam, "invalid input")
	if CodeOf(err) != InvalidParam {
		t.Errorf("expected InvalidParam, got %v", CodeOf(err))
	}

	wrapped := Wrap(err, DbWrite, "failed")
	if CodeOf(wrapped) != DbWrite {
		t.Errorf("expected DbWrite, got %v", CodeOf(wrapped))
	}

	if CodeOf(errors.New("std error")) != InvalidParam {
		t.Errorf("expected InvalidParam for bare error, got %v", CodeOf(errors.New("std error")))
	}
}

func TestAttributes(t *testing.T) {
	err := New(InvalidParam, "invalid input")
	err = Attr(err, "field", "port")
	err = Attr(err, "value", 80)

	attrs := GetAttributes(err)
	if attrs["field"] != "port" {
		t.Errorf("expected port, got %v", attrs["field"])
	}
	if attrs["value"] != 80 {
		t.Errorf("expected 80, got %v", attrs["value"])
	}

	wrapped := Wrap(err, DbWrite, "failed")
	wrapped = Attr(wrapped, "operation", "start")

	allAttrs := GetAttributes(wrapped)
	if allAttrs["field"] != "port" || allAttrs["operation"] != "start" {
		t.Errorf("missing attributes: %v", allAttrs)
	}
}

func TestCodeString(t *testing.T) {
	cases := map[Code]string{
		AlreadyInitialized: "already initialized",
		PermissionDenied:   "permission denied (need CAP_NET_ADMIN)",
		GroupNotFound:      "rule group not found",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("Code(%d).String() = %q, want %q", code, got, want)
		}
	}
}
