package openai

import (
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/ragd/internal/domain"
)

func TestParseAPIError_TransportFailure(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:1: connect: connection refused")

	err := parseAPIError("generate", cause)

	if !errors.Is(err, domain.ErrUpstreamProvider) {
		t.Fatalf("got %v, want ErrUpstreamProvider", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("transport error text lost: %q", err.Error())
	}
}
