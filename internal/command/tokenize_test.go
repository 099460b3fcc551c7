package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace only", " \t ", nil},
		{"single word", "ping", []string{"ping"}},
		{"collapses whitespace", "  login   abc  ", []string{"login", "abc"}},
		{"double quotes keep spaces", `say "hello   world"`, []string{"say", "hello   world"}},
		{"single quotes are literal", `say 'a \ "b"'`, []string{"say", `a \ "b"`}},
		{"escaped quote in double quotes", `"a\"b"`, []string{`a"b`}},
		{"backslash kept before ordinary char in double quotes", `"a\nb"`, []string{`a\nb`}},
		{"escaped space outside quotes", `a\ b`, []string{"a b"}},
		{"adjacent pieces join", `ab"c d"'e'`, []string{"abc de"}},
		{"empty quoted word", `login ""`, []string{"login", ""}},
		{"tabs separate", "a\tb", []string{"a", "b"}},
		{"unicode", `say "héllo wörld"`, []string{"say", "héllo wörld"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Tokenize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTokenize_Unbalanced(t *testing.T) {
	for _, in := range []string{`"abc`, `'abc`, `a "b`, `trailing\`, `"a\"`, `'it's'`} {
		_, err := Tokenize(in)
		assert.ErrorIs(t, err, ErrUnbalancedQuotes, in)
	}
}

// Property: a balanced double-quoted substring survives with interior whitespace intact.
func TestPropertyQuotedSubstringSurvives(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		inner := rapid.StringMatching(`[a-zA-Z0-9 \t]{0,30}`).Draw(t, "inner")
		prefix := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "prefix")

		words, err := Tokenize(prefix + ` "` + inner + `"`)
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		if len(words) != 2 || words[0] != prefix || words[1] != inner {
			t.Fatalf("Tokenize(%q %q) = %q", prefix, inner, words)
		}
	})
}

// Property: a line with an odd number of unescaped double quotes and no other
// quoting characters always yields ErrUnbalancedQuotes.
func TestPropertyUnbalancedQuotesFail(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,6}`), 2, 8).Draw(t, "parts")
		n := len(parts) - 1
		if n%2 == 0 {
			parts = parts[:len(parts)-1]
		}
		line := strings.Join(parts, `"`)
		if _, err := Tokenize(line); err != ErrUnbalancedQuotes {
			t.Fatalf("Tokenize(%q) err = %v, want ErrUnbalancedQuotes", line, err)
		}
	})
}

// Property: Tokenize never panics on arbitrary input.
func TestPropertyTokenizeNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.String().Draw(t, "line")
		_, _ = Tokenize(line)
	})
}
