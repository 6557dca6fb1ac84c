package tagfilter

import "testing"

func TestIdentityWithNoTags(t *testing.T) {
	f := New(nil)
	if got := f.Filter("hello world"); got != "hello world" {
		t.Fatalf("expected identity, got %q", got)
	}
	if got := f.Flush(); got != "" {
		t.Fatalf("expected empty flush, got %q", got)
	}
}

func TestCrossChunkTagSuppression(t *testing.T) {
	f := New([]string{"xaiartifact"})
	var got string
	got += f.Filter("Hello <xai")
	got += f.Filter("artifact>secret</xaiartifact> World")
	if got != "Hello  World" {
		t.Fatalf("expected %q, got %q", "Hello  World", got)
	}
}

func TestSelfClosingTag(t *testing.T) {
	f := New([]string{"foo"})
	got := f.Filter("a<foo/>b")
	if got != "ab" {
		t.Fatalf("expected %q, got %q", "ab", got)
	}
}

func TestNonTagAngleBracketEmitted(t *testing.T) {
	f := New([]string{"xaiartifact"})
	got := f.Filter("1 < 2 and 3 > 2")
	if got != "1 < 2 and 3 > 2" {
		t.Fatalf("expected verbatim emission of unrelated angle brackets, got %q", got)
	}
}

func TestAmbiguousPrefixResolvesToNonTag(t *testing.T) {
	f := New([]string{"xaiartifact"})
	// "<y" never matches "<xaiartifact" - should flush as literal text
	// once ambiguity ends (here, the very next char disambiguates).
	got := f.Filter("<y>")
	if got != "<y>" {
		t.Fatalf("expected literal emission once disambiguated, got %q", got)
	}
}

func TestFlushReturnsPendingPrefixAtStreamEnd(t *testing.T) {
	f := New([]string{"xaiartifact"})
	got := f.Filter("hello <xai")
	if got != "hello " {
		t.Fatalf("expected %q, got %q", "hello ", got)
	}
	if got := f.Flush(); got != "<xai" {
		t.Fatalf("expected flush to return pending prefix, got %q", got)
	}
}

func TestMultipleConfiguredTags(t *testing.T) {
	f := New([]string{"xaiartifact", "xai:tool_usage_card"})
	got := f.Filter("a<xai:tool_usage_card id=\"1\"/>b<xaiartifact>c</xaiartifact>d")
	if got != "abd" {
		t.Fatalf("expected %q, got %q", "abd", got)
	}
}

func TestResetClearsState(t *testing.T) {
	f := New([]string{"xaiartifact"})
	_ = f.Filter("hello <xai")
	f.Reset()
	if got := f.Flush(); got != "" {
		t.Fatalf("expected empty flush after reset, got %q", got)
	}
	got := f.Filter("clean")
	if got != "clean" {
		t.Fatalf("expected clean state after reset, got %q", got)
	}
}

func TestNeverSplitThinkTagAcrossChunks(t *testing.T) {
	f := New([]string{"think"})
	var got string
	for _, tok := range []string{"x<", "th", "in", "k>", "secret", "</think>", "y"} {
		got += f.Filter(tok)
	}
	got += f.Flush()
	if got != "xy" {
		t.Fatalf("expected %q, got %q", "xy", got)
	}
}
