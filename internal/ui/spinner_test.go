package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSpinnerPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "Asking the model", true)
	s.Start()
	s.Start()
	s.Update("still asking")
	s.Stop("done")
	s.Stop("again")

	if got := buf.String(); got != "Asking the model...\ndone\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestRun(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, "Loading", false, func() error { return nil }); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Contains(buf.String(), "✗") {
		t.Errorf("unexpected failure mark in %q", buf.String())
	}

	buf.Reset()
	boom := errors.New("boom")
	if err := Run(&buf, "Loading", false, func() error { return boom }); err != boom {
		t.Fatalf("expected the callback error, got %v", err)
	}
	if !strings.Contains(buf.String(), "✗ Loading") {
		t.Errorf("expected failure mark in %q", buf.String())
	}
}
