package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without wrapped error",
			err: &Error{
				Kind:    KindServer,
				Message: "something went wrong",
			},
			want: "server: something went wrong",
		},
		{
			name: "with wrapped error",
			err: &Error{
				Kind:    KindNetwork,
				Message: "something went wrong",
				Err:     errors.New("underlying cause"),
			},
			want: "network: something went wrong (underlying cause)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &Error{Kind: KindServer, Message: "test", Err: underlying}

	if err.Unwrap() != underlying {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), underlying)
	}

	errNoWrap := &Error{Kind: KindServer, Message: "test"}
	if errNoWrap.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no wrapped error")
	}
}

func TestConstructorsWrapSentinels(t *testing.T) {
	key := NewKey("p1", "500g")

	tests := []struct {
		name     string
		err      *Error
		kind     ErrorKind
		sentinel error
	}{
		{"invalid item", NewInvalidItemError("quantity", "must be at least 1"), KindInvalidItem, ErrInvalidItem},
		{"availability", NewAvailabilityError(key, ""), KindAvailability, ErrAvailabilityRestricted},
		{"sync conflict", NewSyncConflictError(key), KindSyncConflict, ErrSyncConflict},
		{"network", NewNetworkError("cart service", errors.New("dial tcp: refused")), KindNetwork, ErrNetwork},
		{"server", NewServerError(""), KindServer, ErrServer},
		{"not found", NewNotFoundError("cart entry"), KindNotFound, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", tt.err.Kind, tt.kind)
			}
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("error should wrap %v", tt.sentinel)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestNewAvailabilityError_Key(t *testing.T) {
	err := NewAvailabilityError(NewKey("milk", "1 L"), "orderable 06:00-22:00")

	if err.Key != "milk:1l" {
		t.Errorf("Key = %q, want %q", err.Key, "milk:1l")
	}
	if err.Message != "orderable 06:00-22:00" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("adding item: %w", NewInvalidItemError("name", "required"))
	if got := KindOf(wrapped); got != KindInvalidItem {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindInvalidItem)
	}

	if got := KindOf(errors.New("plain")); got != KindServer {
		t.Errorf("KindOf(plain) = %q, want %q", got, KindServer)
	}
}

func TestError_WithKey(t *testing.T) {
	base := NewServerError("boom")
	annotated := base.WithKey(NewKey("p1", ""))

	if annotated.Key != "p1" {
		t.Errorf("Key = %q, want p1", annotated.Key)
	}
	if base.Key != "" {
		t.Error("WithKey should not modify the receiver")
	}
}
