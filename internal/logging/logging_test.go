package logging

import "testing"

type capture struct {
	lines []string
}

func (c *capture) Debugf(format string, args ...any) { c.lines = append(c.lines, "D:"+format) }
func (c *capture) Infof(format string, args ...any)  { c.lines = append(c.lines, "I:"+format) }
func (c *capture) Warnf(format string, args ...any)  { c.lines = append(c.lines, "W:"+format) }
func (c *capture) Errorf(format string, args ...any) { c.lines = append(c.lines, "E:"+format) }

func TestOrDiscardReturnsDiscardForNil(t *testing.T) {
	l := OrDiscard(nil)
	if l != Discard {
		t.Fatal("expected Discard for nil Logger")
	}
	// must not panic
	l.Infof("hello %d", 1)
}

func TestOrDiscardPassesThroughNonNil(t *testing.T) {
	c := &capture{}
	l := OrDiscard(c)
	if l != Logger(c) {
		t.Fatal("expected the same logger to be returned")
	}
	l.Warnf("careful")
	if len(c.lines) != 1 || c.lines[0] != "W:careful" {
		t.Fatalf("unexpected capture: %v", c.lines)
	}
}

func TestDefaultLoggerSuppressesDebugWhenDisabled(t *testing.T) {
	// NewDefault writes to stderr; this test only verifies it doesn't panic
	// and that debug suppression doesn't affect Infof/Warnf/Errorf.
	l := NewDefault(false)
	l.Debugf("should be suppressed")
	l.Infof("visible")
	l.Warnf("visible")
	l.Errorf("visible")
}
