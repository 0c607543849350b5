package tokens

import (
	"reflect"
	"strings"
	"testing"
)

func newTestCodec(t *testing.T) Codec {
	t.Helper()

	c, err := NewCL100K()
	if err != nil {
		t.Fatalf("NewCL100K() error = %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)

	tests := []string{
		"hello world",
		"The quarterly totals are on page 7.",
		"multi-byte: café, naïve, 東京",
		"line\nbreaks\tand   spaces",
		strings.Repeat("revenue grew in the third quarter. ", 40),
	}
	for _, text := range tests {
		ids := c.Encode(text)
		if got := c.Decode(ids); got != text {
			t.Errorf("round trip changed text:\n got %q\nwant %q", got, text)
		}
	}
}

func TestCountMatchesEncode(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)

	for _, text := range []string{"", "one", "a longer sentence with several words"} {
		if got, want := c.Count(text), len(c.Encode(text)); got != want {
			t.Errorf("Count(%q) = %d, len(Encode) = %d", text, got, want)
		}
	}
	if c.Count("") != 0 {
		t.Errorf("Count(\"\") = %d, want 0", c.Count(""))
	}
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)

	const text = "chunk identity depends on stable token boundaries"
	first := c.Encode(text)
	second := c.Encode(text)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Encode not deterministic: %v vs %v", first, second)
	}

	// Two independently constructed codecs must agree as well.
	other := newTestCodec(t)
	if !reflect.DeepEqual(first, other.Encode(text)) {
		t.Error("Encode differs across codec instances")
	}
}
