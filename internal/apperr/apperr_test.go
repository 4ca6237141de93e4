package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindNotReady, http.StatusConflict},
		{KindBusy, http.StatusConflict},
		{KindFrozen, http.StatusLocked},
		{KindInvalidRequest, http.StatusBadRequest},
		{KindDependency, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
		{Kind("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	for _, kind := range []Kind{KindBusy, KindDependency, KindInternal} {
		if !kind.Retryable() {
			t.Errorf("%s should be retryable", kind)
		}
	}
	for _, kind := range []Kind{KindNotFound, KindConflict, KindNotReady, KindFrozen, KindInvalidRequest} {
		if kind.Retryable() {
			t.Errorf("%s should not be retryable", kind)
		}
	}
}

func TestKindOfUnwrapsChains(t *testing.T) {
	base := Conflict("codigo %q already exists", "agua")
	wrapped := fmt.Errorf("merge failed: %w", base)

	if got := KindOf(wrapped); got != KindConflict {
		t.Errorf("KindOf = %s, want conflict", got)
	}
	if !IsConflict(wrapped) {
		t.Error("IsConflict should see through fmt.Errorf wrapping")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("unclassified errors must map to internal")
	}
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Busy("catalog", "sess-1"))
	if !errors.Is(err, New(KindBusy, "")) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(err, New(KindFrozen, "")) {
		t.Error("errors.Is must not match a different kind")
	}
}

func TestNotReadyCarriesReasons(t *testing.T) {
	e := NotReady([]string{"missing_code_id", "cycles_non_trivial"})
	reasons, ok := e.Details["blocking_reasons"].([]string)
	if !ok || len(reasons) != 2 {
		t.Fatalf("blocking_reasons detail = %v", e.Details["blocking_reasons"])
	}
	if e.Kind.HTTPStatus() != http.StatusConflict {
		t.Errorf("not_ready should serve 409, got %d", e.Kind.HTTPStatus())
	}
}

func TestBusyHolderDetail(t *testing.T) {
	e := Busy("catalog", "sess-42")
	if e.Details["holder_session_id"] != "sess-42" {
		t.Errorf("holder detail = %v", e.Details["holder_session_id"])
	}
	anon := Busy("axial", "")
	if _, present := anon.Details["holder_session_id"]; present {
		t.Error("unknown holder must not add an empty detail")
	}
}

func TestWrapNilCause(t *testing.T) {
	if Wrap(KindDependency, nil, "graph down") != nil {
		t.Error("Wrap(nil) must return nil")
	}
}

func TestDependencyWithoutCause(t *testing.T) {
	e := Dependency(nil, "neo4j")
	if e == nil || e.Kind != KindDependency {
		t.Fatalf("Dependency(nil) = %v", e)
	}
	if e.Details["store"] != "neo4j" {
		t.Errorf("store detail = %v", e.Details["store"])
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	e := Dependency(cause, "neo4j")
	if !errors.Is(e, cause) {
		t.Error("cause must remain reachable via errors.Is")
	}
}
