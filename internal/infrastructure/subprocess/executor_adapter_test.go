package subprocess

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/vizloop/enginecore/internal/domain/service"
)

// TestExecuteRetriesOnceOnTransientCrash drives a shell script that exits
// nonzero on its first invocation (a "crash", per Runner.Call's
// classification) and succeeds on the second, proving the adapter's
// bounded retry recovers from a transient child-process failure.
func TestExecuteRetriesOnceOnTransientCrash(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "attempts")
	script := `
if [ ! -f "` + counter + `" ]; then
  echo x > "` + counter + `"
  exit 1
fi
echo '{"raw_image_b64":"frame"}'
`
	runner := NewRunner(Config{Command: "sh", Args: []string{"-c", script}}, zap.NewNop())
	adapter := NewExecutorAdapter(runner)

	result, err := adapter.Execute(context.Background(), service.ExecRequest{StoryText: "go"})
	if err != nil {
		t.Fatalf("expected retry to succeed, got error: %v", err)
	}
	if result.RawImageB64 != "frame" {
		t.Fatalf("expected frame from the retried call, got %q", result.RawImageB64)
	}
}

func TestExecuteDoesNotRetryOnMalformedOutput(t *testing.T) {
	runner := NewRunner(Config{Command: "echo", Args: []string{"not json"}}, zap.NewNop())
	adapter := NewExecutorAdapter(runner)

	_, err := adapter.Execute(context.Background(), service.ExecRequest{StoryText: "go"})
	if err == nil {
		t.Fatal("expected malformed-output error")
	}
	callErr, ok := err.(*CallError)
	if !ok {
		t.Fatalf("expected *CallError, got %T", err)
	}
	if callErr.Kind != "malformed" {
		t.Fatalf("expected malformed kind (no retry), got %q", callErr.Kind)
	}
}
