// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}

	if Wrap(nil, KindInternal, "nothing") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindNotFound, "process exited")
	if GetKind(err) != KindNotFound {
		t.Errorf("expected KindNotFound, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindInternal, "resolve")
	if GetKind(wrapped) != KindInternal {
		t.Errorf("expected KindInternal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestIsKind(t *testing.T) {
	inner := New(KindNotFound, "pid 4821 not running")
	wrapped := Wrap(inner, KindInternal, "probe")
	viaFmt := fmt.Errorf("handle probe: %w", wrapped)

	if !IsKind(viaFmt, KindNotFound) {
		t.Error("expected KindNotFound somewhere in the chain")
	}
	if !IsKind(viaFmt, KindInternal) {
		t.Error("expected KindInternal somewhere in the chain")
	}
	if IsKind(viaFmt, KindStale) {
		t.Error("did not expect KindStale")
	}
	if IsKind(nil, KindNotFound) {
		t.Error("nil has no kind")
	}
}

func TestSentinelIs(t *testing.T) {
	sentinel := New(KindStale, "verdict handle is stale")
	err := fmt.Errorf("set verdict: %w", Wrap(sentinel, KindStale, "queue 0"))

	if !Is(err, sentinel) {
		t.Error("expected wrapped sentinel to match")
	}
	if Is(err, New(KindStale, "other")) {
		t.Error("different message must not match")
	}
}

func TestAttributes(t *testing.T) {
	err := New(KindValidation, "invalid input")
	err = Attr(err, "field", "port")
	err = Attr(err, "value", 80)

	attrs := GetAttributes(err)
	if attrs["field"] != "port" {
		t.Errorf("expected port, got %v", attrs["field"])
	}
	if attrs["value"] != 80 {
		t.Errorf("expected 80, got %v", attrs["value"])
	}

	wrapped := Wrap(err, KindInternal, "failed")
	wrapped = Attr(wrapped, "operation", "start")

	allAttrs := GetAttributes(wrapped)
	if allAttrs["field"] != "port" || allAttrs["operation"] != "start" {
		t.Errorf("missing attributes: %v", allAttrs)
	}
}
