package runtime

import "testing"

func TestQuantFromDescription(t *testing.T) {
	cases := []struct{ in, want string }{
		{"llama 7B Q4_K - Medium", "Q4_K"},
		{"qwen2 1.5B Q8_0", "Q8_0"},
		{"phi3 3B F16", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := QuantFromDescription(c.in); got != c.want {
			t.Fatalf("%q -> %q, want %q", c.in, got, c.want)
		}
	}
}

func TestArchFromDescription(t *testing.T) {
	if got := ArchFromDescription("llama 7B Q4_K - Medium"); got != "llama" {
		t.Fatalf("got %q", got)
	}
	if got := ArchFromDescription("   "); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestFillDerived(t *testing.T) {
	mi := ModelInfo{Description: "gemma 2B Q5_K - Small"}
	mi.fillDerived()
	if mi.QuantType != "Q5_K" || mi.Architecture != "gemma" {
		t.Fatalf("unexpected info: %+v", mi)
	}
}
