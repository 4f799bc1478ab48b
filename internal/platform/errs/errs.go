// Package errs defines the error taxonomy of the billing pipeline.
// Services return these typed errors; HTTP handlers map them to status
// codes with HTTPStatus.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// FieldError describes one violated field in a ValidationError.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every creation-time field violation at once.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a violation. Returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// OrNil returns nil when no violations were collected.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// InvalidStateError reports an illegal state-machine transition.
type InvalidStateError struct {
	Entity  string `json:"entity"`
	Current string `json:"current"`
	Reason  string `json:"reason"`
}

func (e *InvalidStateError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("%s in state %s: %s", e.Entity, e.Current, e.Reason)
}

// ConflictItem names one offending entity in a bulk ConflictError.
type ConflictItem struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ConflictError reports batch-membership rule violations, one item per
// offending claim. The operation that produced it made no changes.
type ConflictError struct {
	Op    string         `json:"op"`
	Items []ConflictItem `json:"items"`
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s: %s", it.ID, it.Reason))
	}
	return fmt.Sprintf("%s rejected: %s", e.Op, strings.Join(parts, "; "))
}

// Add appends an offending item.
func (e *ConflictError) Add(id, reason string) *ConflictError {
	e.Items = append(e.Items, ConflictItem{ID: id, Reason: reason})
	return e
}

// OrNil returns nil when no conflicts were collected.
func (e *ConflictError) OrNil() error {
	if len(e.Items) == 0 {
		return nil
	}
	return e
}

// NotFoundError reports a missing claim/batch/convenio reference.
type NotFoundError struct {
	Resource string `json:"resource"`
	Ref      string `json:"ref"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Ref)
}

// DeadlineExpiredError reports a contestation attempted after its deadline.
type DeadlineExpiredError struct {
	Deadline time.Time `json:"deadline"`
}

func (e *DeadlineExpiredError) Error() string {
	return fmt.Sprintf("contestation deadline expired at %s", e.Deadline.Format("2006-01-02"))
}

// ParseError reports a malformed return document or node. Node is -1 when
// the whole document is unparseable.
type ParseError struct {
	Node   int    `json:"node"`
	Detail string `json:"detail"`
}

func (e *ParseError) Error() string {
	if e.Node < 0 {
		return "unparseable return document: " + e.Detail
	}
	return fmt.Sprintf("return node %d: %s", e.Node, e.Detail)
}

// IntegrationError reports a recoverable financial-bridge failure. It never
// invalidates already-committed claim state.
type IntegrationError struct {
	Op  string
	Err error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integration %s: %v", e.Op, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// HTTPStatus maps a taxonomy error to an HTTP status code.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		se *InvalidStateError
		ce *ConflictError
		nf *NotFoundError
		de *DeadlineExpiredError
		pe *ParseError
		ie *IntegrationError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se):
		return http.StatusConflict
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe):
		return http.StatusBadRequest
	case errors.As(err, &ie):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
