package errs

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestValidationErrorCollectsAllFields(t *testing.T) {
	ve := &ValidationError{}
	ve.Add("paciente_nome", "must be at least 3 characters")
	ve.Add("cid", "is required")

	msg := ve.Error()
	if !strings.Contains(msg, "paciente_nome") || !strings.Contains(msg, "cid") {
		t.Errorf("expected both fields in message, got %q", msg)
	}
	if len(ve.Fields) != 2 {
		t.Errorf("expected 2 fields, got %d", len(ve.Fields))
	}
}

func TestValidationErrorOrNil(t *testing.T) {
	ve := &ValidationError{}
	if err := ve.OrNil(); err != nil {
		t.Errorf("empty validation error should be nil, got %v", err)
	}
	ve.Add("campo", "bad")
	if err := ve.OrNil(); err == nil {
		t.Error("non-empty validation error should not be nil")
	}
}

func TestConflictErrorItemized(t *testing.T) {
	ce := &ConflictError{Op: "add claims"}
	ce.Add("g1", "wrong convenio")
	ce.Add("g2", "already batched")
	if len(ce.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(ce.Items))
	}
	if !strings.Contains(ce.Error(), "already batched") {
		t.Errorf("expected reason in message, got %q", ce.Error())
	}
}

func TestIntegrationErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	ie := &IntegrationError{Op: "record payment", Err: inner}
	if ie.Unwrap() != inner {
		t.Error("expected Unwrap to return inner error")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{(&ValidationError{}).Add("x", "y"), http.StatusUnprocessableEntity},
		{&InvalidStateError{Entity: "guia", Current: "PAID", Reason: "cannot cancel"}, http.StatusConflict},
		{(&ConflictError{Op: "add"}).Add("id", "r"), http.StatusConflict},
		{&NotFoundError{Resource: "guia", Ref: "123"}, http.StatusNotFound},
		{&DeadlineExpiredError{Deadline: time.Now()}, http.StatusUnprocessableEntity},
		{&ParseError{Node: -1, Detail: "not xml"}, http.StatusBadRequest},
		{&IntegrationError{Op: "ledger", Err: fmt.Errorf("down")}, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%T) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("wrap: %w", &NotFoundError{Resource: "lote", Ref: "x"})) {
		t.Error("expected IsNotFound on wrapped NotFoundError")
	}
	if IsNotFound(fmt.Errorf("other")) {
		t.Error("did not expect IsNotFound on plain error")
	}
}
