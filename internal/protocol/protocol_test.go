package protocol

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in        string
		kind      Kind
		budget    int
		hasBudget bool
		malformed bool
	}{
		{"generate 50\n", KindGenerate, 50, true, false},
		{"generate 1", KindGenerate, 1, true, false},
		{"generate 4096\r\n", KindGenerate, 4096, true, false},
		{"generate\n", KindGenerate, 0, false, false},
		{"generate ", KindGenerate, 0, false, false},
		{"generate abc\n", KindGenerate, 0, false, true},
		{"generate 0", KindGenerate, 0, false, true},
		{"generate -5", KindGenerate, 0, false, true},
		{"generate 4097", KindGenerate, 0, false, true},
		{"generate 12 34", KindGenerate, 0, false, true},
		{"generateX", KindGenerate, 0, false, true},
		{"quit\n", KindQuit, 0, false, false},
		{"quitting", KindQuit, 0, false, false},
		{"hello", KindUnknown, 0, false, false},
		{"", KindUnknown, 0, false, false},
		{" generate 5", KindUnknown, 0, false, false},
	}
	for _, c := range cases {
		got := ParseCommand(c.in, 4096)
		if got.Kind != c.kind || got.Budget != c.budget || got.HasBudget != c.hasBudget || got.Malformed != c.malformed {
			t.Fatalf("ParseCommand(%q) = %+v", c.in, got)
		}
	}
}

func TestParseCommandNoUpperBound(t *testing.T) {
	got := ParseCommand("generate 100000", 0)
	if !got.HasBudget || got.Budget != 100000 {
		t.Fatalf("expected unbounded budget, got %+v", got)
	}
}

func TestFormatGenerateRoundTrip(t *testing.T) {
	for _, n := range []int{1, 50, 1024} {
		cmd := ParseCommand(FormatGenerate(n), 0)
		if cmd.Kind != KindGenerate || cmd.Budget != n {
			t.Fatalf("round trip %d -> %+v", n, cmd)
		}
	}
	if got := FormatGenerate(0); got != "generate" {
		t.Fatalf("FormatGenerate(0) = %q", got)
	}
}

func TestParseReply(t *testing.T) {
	if r := ParseReply("done\n"); !r.Done {
		t.Fatalf("done not recognised: %+v", r)
	}
	if r := ParseReply("ready"); !r.Ready {
		t.Fatalf("ready not recognised: %+v", r)
	}
	if r := ParseReply("error backend exploded"); !r.Err || r.Message != "backend exploded" {
		t.Fatalf("error not recognised: %+v", r)
	}
	if r := ParseReply("error"); !r.Err || r.Message != "" {
		t.Fatalf("bare error not recognised: %+v", r)
	}
	if r := ParseReply("donut"); r.Done || r.Ready || r.Err {
		t.Fatalf("noise classified: %+v", r)
	}
}

func TestFormatErrorFlattensNewlines(t *testing.T) {
	got := FormatError("line one\nline two")
	if got != "error line one line two" {
		t.Fatalf("FormatError = %q", got)
	}
	if r := ParseReply(got); !r.Err || r.Message != "line one line two" {
		t.Fatalf("unexpected reply %+v", r)
	}
}
