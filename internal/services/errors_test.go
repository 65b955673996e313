package services

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/abrezinsky/eventxp/internal/errors"
	"github.com/abrezinsky/eventxp/internal/repository"
)

func TestStoreError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		kind errors.Kind
	}{
		{"not found", repository.ErrNotFound, errors.ErrNotFound},
		{"version conflict", repository.ErrVersionConflict, errors.ErrConflict},
		{"already exists", repository.ErrAlreadyExists, errors.ErrConflict},
		{"classified passes through", errors.Validation("bad"), errors.ErrValidation},
		{"wrapped classified passes through", fmt.Errorf("ctx: %w", errors.Permission("no")), errors.ErrPermission},
		{"driver error is internal", stderrors.New("disk full"), errors.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storeError(tt.in)
			if got == nil {
				t.Fatal("expected error")
			}
			if errors.KindOf(got) != tt.kind {
				t.Errorf("got kind %v, want %v", errors.KindOf(got), tt.kind)
			}
		})
	}

	if storeError(nil) != nil {
		t.Error("nil must stay nil")
	}
}
