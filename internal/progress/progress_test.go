package progress

import "testing"

func TestBarAdvanceReachesHundredPercent(t *testing.T) {
	b := NewBar("f.txt", 4)

	var last string
	for i := 0; i < 4; i++ {
		last = b.Advance()
	}
	if last != "f.txt: 100% (4/4 chunks)" {
		t.Fatalf("unexpected final line: %q", last)
	}

	if line := b.Advance(); line != "" {
		t.Fatalf("expected no line after completion, got %q", line)
	}
}

func TestReporterTicksRegisteredBar(t *testing.T) {
	var lines []string
	r := NewReporter(func(line string) { lines = append(lines, line) })

	r.Start("a.txt", 2)
	r.Tick("a.txt")
	r.Tick("a.txt")
	r.Finish("a.txt")

	if len(lines) != 3 {
		t.Fatalf("expected 3 reported lines (start + 2 ticks), got %d: %v", len(lines), lines)
	}
	if lines[len(lines)-1] != "a.txt: 100% (2/2 chunks)" {
		t.Fatalf("unexpected last line: %q", lines[len(lines)-1])
	}
}

func TestReporterIgnoresTickForUnknownFile(t *testing.T) {
	var lines []string
	r := NewReporter(func(line string) { lines = append(lines, line) })

	r.Tick("missing.txt")
	if len(lines) != 0 {
		t.Fatalf("expected no output for an unregistered file, got %v", lines)
	}
}
