package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeTransport struct {
	responses map[string]string
	failures  map[string]error
	calls     []Request
}

func (f *fakeTransport) Provider() string { return "fake" }

func (f *fakeTransport) Complete(_ context.Context, req Request) (string, error) {
	f.calls = append(f.calls, req)
	if err, ok := f.failures[req.Model]; ok {
		return "", err
	}
	return f.responses[req.Model], nil
}

func newTestClient(t *testing.T, transport Transport, model string) *Client {
	t.Helper()
	client, err := NewClient(transport, Config{
		Model:            model,
		FallbackModel:    "meta-llama/llama-4-scout-17b-16e-instruct",
		DeprecatedFamily: "mixtral",
		MaxTokens:        256,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestCompleteUsesDefaultModel(t *testing.T) {
	transport := &fakeTransport{responses: map[string]string{"openai/gpt-oss-120b": "SELECT 1"}}
	client := newTestClient(t, transport, "openai/gpt-oss-120b")

	got, err := client.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SELECT 1" {
		t.Fatalf("Complete() = %q", got)
	}
	if len(transport.calls) != 1 {
		t.Fatalf("calls = %d", len(transport.calls))
	}
	call := transport.calls[0]
	if call.System != "sys" || call.User != "user" || call.MaxTokens != 256 {
		t.Fatalf("request = %#v", call)
	}
}

func TestCompleteFallsBackForDeprecatedFamily(t *testing.T) {
	transport := &fakeTransport{
		failures:  map[string]error{"Mixtral-8x7b-32768": errors.New("model decommissioned")},
		responses: map[string]string{"meta-llama/llama-4-scout-17b-16e-instruct": "```sql\nSELECT 2\n```"},
	}
	client := newTestClient(t, transport, "openai/gpt-oss-120b")

	got, err := client.Complete(context.Background(), "sys", "user", WithModel("Mixtral-8x7b-32768"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "```sql\nSELECT 2\n```" {
		t.Fatalf("Complete() = %q", got)
	}
	if len(transport.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(transport.calls))
	}
	if transport.calls[1].System != "sys" || transport.calls[1].User != "user" {
		t.Fatalf("fallback request = %#v, want same messages", transport.calls[1])
	}
}

func TestCompleteSurfacesPrimaryErrorWhenFallbackFails(t *testing.T) {
	primary := errors.New("primary down")
	transport := &fakeTransport{failures: map[string]error{
		"mixtral-8x7b-32768":                        primary,
		"meta-llama/llama-4-scout-17b-16e-instruct": errors.New("fallback down"),
	}}
	client := newTestClient(t, transport, "mixtral-8x7b-32768")

	_, err := client.Complete(context.Background(), "sys", "user")
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("Complete() error = %v, want ServiceError", err)
	}
	if !errors.Is(err, primary) {
		t.Fatalf("Complete() error = %v, want primary cause", err)
	}
	if serviceErr.Model != "mixtral-8x7b-32768" {
		t.Fatalf("Model = %q", serviceErr.Model)
	}
	if serviceErr.FallbackErr == nil {
		t.Fatal("FallbackErr should record the fallback failure")
	}
	if len(transport.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(transport.calls))
	}
}

func TestCompleteDoesNotRetryOtherModels(t *testing.T) {
	transport := &fakeTransport{failures: map[string]error{"openai/gpt-oss-120b": errors.New("rate limited")}}
	client := newTestClient(t, transport, "openai/gpt-oss-120b")

	_, err := client.Complete(context.Background(), "sys", "user")
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("Complete() error = %v, want ServiceError", err)
	}
	if serviceErr.FallbackErr != nil || serviceErr.FallbackModel != "" {
		t.Fatalf("unexpected fallback attempt: %#v", serviceErr)
	}
	if len(transport.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(transport.calls))
	}
}

func TestNewClientValidatesInputs(t *testing.T) {
	if _, err := NewClient(nil, Config{Model: "m"}, nil); err == nil {
		t.Fatal("expected error for nil transport")
	}
	if _, err := NewClient(&fakeTransport{}, Config{}, nil); err == nil {
		t.Fatal("expected error for empty model")
	}
}
