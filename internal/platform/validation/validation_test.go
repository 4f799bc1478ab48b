package validation

import (
	"testing"

	"github.com/saudeplus/tiss/internal/platform/errs"
)

type sample struct {
	Name string `json:"name" validate:"required,min=2"`
	Mode string `json:"mode" validate:"required,oneof=A B"`
}

func TestCollect_ReportsAllViolations(t *testing.T) {
	v := New()
	ve := &errs.ValidationError{}
	Collect(v, sample{Name: "", Mode: "C"}, ve)

	if len(ve.Fields) != 2 {
		t.Fatalf("expected 2 violations, got %d: %v", len(ve.Fields), ve.Fields)
	}
	if ve.Fields[0].Field != "name" {
		t.Errorf("expected json tag name, got %q", ve.Fields[0].Field)
	}
}

func TestCollect_ValidStruct(t *testing.T) {
	v := New()
	ve := &errs.ValidationError{}
	Collect(v, sample{Name: "ok", Mode: "A"}, ve)
	if ve.OrNil() != nil {
		t.Errorf("expected no violations, got %v", ve.Fields)
	}
}
