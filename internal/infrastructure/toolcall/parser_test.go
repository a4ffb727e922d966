package toolcall

import "testing"

func TestParseExtractsMultipleCalls(t *testing.T) {
	p := New()
	text := `I'll click(100, 200) the button, then write("hello world") into the field, then wait(500).`

	calls := p.Parse(text)
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d: %+v", len(calls), calls)
	}
	if calls[0].Name != "click" || len(calls[0].Args) != 2 || calls[0].Args[0] != "100" || calls[0].Args[1] != "200" {
		t.Fatalf("unexpected first call: %+v", calls[0])
	}
	if calls[1].Name != "write" || calls[1].Args[0] != "hello world" {
		t.Fatalf("unexpected second call: %+v", calls[1])
	}
	if calls[2].Name != "wait" || calls[2].Args[0] != "500" {
		t.Fatalf("unexpected third call: %+v", calls[2])
	}
}

func TestParseNoCallsReturnsEmpty(t *testing.T) {
	p := New()
	calls := p.Parse("just narrating with no actions at all")
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %+v", calls)
	}
}

func TestParseHandlesZeroArgCalls(t *testing.T) {
	p := New()
	calls := p.Parse("scroll() then wait()")
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Args != nil {
		t.Fatalf("expected nil args for zero-arg call, got %+v", calls[0].Args)
	}
}

func TestParseRecordsSourceSpan(t *testing.T) {
	p := New()
	text := "click(1,2)"
	calls := p.Parse(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	span := calls[0].SourceSpan
	if text[span[0]:span[1]] != "click(1,2)" {
		t.Fatalf("source span mismatch: %q", text[span[0]:span[1]])
	}
}
