package errortypes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"input", Input("No image provided"), http.StatusBadRequest},
		{"detection", Detection("Failed to read group image", errors.New("bad jpeg")), http.StatusBadRequest},
		{"timeout", Timeout(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"unexpected", Unexpected(errors.New("boom")), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped input", fmt.Errorf("enroll: %w", Input("Missing student information")), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Timeout(context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected Timeout to wrap context.DeadlineExceeded")
	}
	if KindOf(err) != KindTimeout {
		t.Errorf("KindOf() = %s, want %s", KindOf(err), KindTimeout)
	}
}

func TestMessage(t *testing.T) {
	if got := Message(Input("No image provided")); got != "No image provided" {
		t.Errorf("Message(Input) = %q", got)
	}
	if got := Message(errors.New("disk full")); got != "Recognition error: disk full" {
		t.Errorf("Message(plain) = %q", got)
	}
	if got := Message(Unexpected(errors.New("disk full"))); got != "Recognition error: disk full" {
		t.Errorf("Message(Unexpected) = %q", got)
	}
}
