package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NotFound("channel_not_found", errors.New("missing")))
	status, code := StatusOf(err)
	if status != http.StatusNotFound || code != "channel_not_found" {
		t.Fatalf("unexpected: %d %s", status, code)
	}
	status, code = StatusOf(errors.New("boom"))
	if status != http.StatusInternalServerError || code != "internal" {
		t.Fatalf("unexpected default: %d %s", status, code)
	}
}
