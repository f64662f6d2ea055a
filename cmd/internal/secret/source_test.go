package secret

import (
	"bytes"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("CDP_TEST_SECRET", "from-env")
	src := NewSource("CDP_TEST_SECRET", "signing secret")
	src.isTerminal = func(int) bool {
		t.Fatalf("terminal should not be consulted")
		return false
	}
	got, err := src.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("unexpected secret %q (%v)", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("CDP_TEST_SECRET", "  ")
	if _, err := NewSource("CDP_TEST_SECRET", "signing secret").Get(); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

func TestSourcePromptsOnTerminalAndCaches(t *testing.T) {
	var prompt bytes.Buffer
	reads := 0
	src := NewSource("", "signing secret")
	src.prompt = &prompt
	src.isTerminal = func(int) bool { return true }
	src.readSecret = func(int) ([]byte, error) {
		reads++
		return []byte("typed"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "typed" {
			t.Fatalf("unexpected secret %q (%v)", got, err)
		}
	}
	if reads != 1 {
		t.Fatalf("expected a single prompt, got %d", reads)
	}
	if prompt.String() != "Enter signing secret: \n" {
		t.Fatalf("unexpected prompt %q", prompt.String())
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("CDP_TEST_UNSET_SECRET", "signing secret")
	src.isTerminal = func(int) bool { return false }
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected an error without a terminal")
	}
}
