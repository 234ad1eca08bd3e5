package resilience

import (
	"errors"
	"testing"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

func TestNewReviewItem(t *testing.T) {
	subject := model.Subject{PersonID: 148, Name: "Test Actor"}
	blocked := NewBlockedError("findagrave", "https://findagrave.com/memorial/1", 403, nil)

	item := NewReviewItem(subject, blocked)
	if item.PersonID != 148 {
		t.Errorf("expected person 148, got %d", item.PersonID)
	}
	if item.Source != "findagrave" {
		t.Errorf("expected source findagrave, got %s", item.Source)
	}
	if item.StatusCode != 403 {
		t.Errorf("expected status 403, got %d", item.StatusCode)
	}
	if item.Reason == "" {
		t.Error("expected a reason")
	}
	if item.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ErrorClass
	}{
		{"nil", nil, ""},
		{"blocked", NewBlockedError("x", "", 403, nil), model.ErrClassBlocked},
		{"transient", NewTransientError(errors.New("503"), 503), model.ErrClassTransient},
		{"other", errors.New("parse failure"), model.ErrClassOther},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("%s: ClassifyError() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
