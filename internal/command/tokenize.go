package command

import (
	"errors"
	"strings"
)

// ErrUnbalancedQuotes is returned by Tokenize when a quote is never closed or
// the line ends in a lone escape character.
var ErrUnbalancedQuotes = errors.New("unbalanced quotes")

// Tokenize splits line into words using POSIX shell quoting rules.
//
// Words are separated by unquoted whitespace. Single quotes preserve every
// character up to the closing quote. Double quotes preserve whitespace and
// honour backslash escapes of '"', '\\', '$' and '`'. Outside quotes a
// backslash escapes the next character. Adjacent quoted and unquoted pieces
// join into one word, and an empty quoted string yields an empty word.
//
// Postcondition: Returns the words, or ErrUnbalancedQuotes. Never panics.
func Tokenize(line string) ([]string, error) {
	var (
		words  []string
		cur    strings.Builder
		inWord bool
	)
	runes := []rune(line)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case isSpace(r):
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}

		case r == '\\':
			if i+1 >= len(runes) {
				return nil, ErrUnbalancedQuotes
			}
			i++
			// Escaped newline is a line continuation.
			if runes[i] != '\n' {
				cur.WriteRune(runes[i])
			}
			inWord = true

		case r == '\'':
			end := indexRune(runes, i+1, '\'')
			if end < 0 {
				return nil, ErrUnbalancedQuotes
			}
			cur.WriteString(string(runes[i+1 : end]))
			i = end
			inWord = true

		case r == '"':
			j := i + 1
			closed := false
			for ; j < len(runes); j++ {
				c := runes[j]
				if c == '"' {
					closed = true
					break
				}
				if c == '\\' && j+1 < len(runes) {
					switch runes[j+1] {
					case '"', '\\', '$', '`':
						cur.WriteRune(runes[j+1])
						j++
						continue
					case '\n':
						j++
						continue
					}
				}
				cur.WriteRune(c)
			}
			if !closed {
				return nil, ErrUnbalancedQuotes
			}
			i = j
			inWord = true

		default:
			cur.WriteRune(r)
			inWord = true
		}
	}

	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func indexRune(runes []rune, from int, target rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == target {
			return i
		}
	}
	return -1
}
