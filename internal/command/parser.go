package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cory-johannsen/nightraid/internal/texterr"
)

// Public messages for parse failures. Every grammar failure shares one
// generic message; usage text is only produced by the help command.
const (
	MsgErroneousQuotes = "erroneous quotes"
	MsgInvalidCommand  = "invalid command"
)

// Grammar failure causes, available through errors.Is on the returned error.
var (
	ErrEmptyLine      = errors.New("empty line")
	ErrUnknownCommand = errors.New("unknown command")
	ErrArity          = errors.New("wrong number of arguments")
)

// Grammar maps command names and aliases to grammar entries.
type Grammar struct {
	entries map[string]*Entry // canonical name → entry
	aliases map[string]string // alias → canonical name
}

// NewGrammar creates a Grammar from the given entries.
//
// Precondition: No two entries may share a canonical name or alias; every entry
// must have a Build function and MinArgs <= MaxArgs.
// Postcondition: Returns a Grammar or an error on collisions or invalid entries.
func NewGrammar(entries []Entry) (*Grammar, error) {
	g := &Grammar{
		entries: make(map[string]*Entry, len(entries)),
		aliases: make(map[string]string),
	}

	for i := range entries {
		e := &entries[i]
		if e.Build == nil {
			return nil, fmt.Errorf("command %q has no build function", e.Name)
		}
		if e.MinArgs < 0 || e.MinArgs > e.MaxArgs {
			return nil, fmt.Errorf("command %q has invalid arity [%d, %d]", e.Name, e.MinArgs, e.MaxArgs)
		}
		if _, exists := g.entries[e.Name]; exists {
			return nil, fmt.Errorf("duplicate command name: %q", e.Name)
		}
		if _, exists := g.aliases[e.Name]; exists {
			return nil, fmt.Errorf("command name %q conflicts with an existing alias", e.Name)
		}
		g.entries[e.Name] = e

		for _, alias := range e.Aliases {
			if _, exists := g.entries[alias]; exists {
				return nil, fmt.Errorf("alias %q conflicts with command name %q", alias, alias)
			}
			if existing, exists := g.aliases[alias]; exists {
				return nil, fmt.Errorf("duplicate alias %q: used by %q and %q", alias, existing, e.Name)
			}
			g.aliases[alias] = e.Name
		}
	}

	return g, nil
}

// DefaultGrammar creates a Grammar with all built-in commands.
func DefaultGrammar() *Grammar {
	g, err := NewGrammar(BuiltinEntries())
	if err != nil {
		panic(fmt.Sprintf("building default grammar: %v", err))
	}
	return g
}

// Resolve looks up an entry by canonical name or alias.
func (g *Grammar) Resolve(word string) (*Entry, bool) {
	if e, ok := g.entries[word]; ok {
		return e, true
	}
	if canonical, ok := g.aliases[word]; ok {
		return g.entries[canonical], true
	}
	return nil, false
}

// Parse tokenizes line and matches it against the grammar.
//
// The command word is matched case-insensitively; arguments keep their case.
//
// Postcondition: Returns a Command, or a *texterr.Error of KindParse whose
// public message is MsgErroneousQuotes or MsgInvalidCommand. Never panics.
func (g *Grammar) Parse(line string) (Command, error) {
	words, err := Tokenize(line)
	if err != nil {
		return nil, texterr.Parse(MsgErroneousQuotes).WithCause(err)
	}
	if len(words) == 0 {
		return nil, texterr.Parse(MsgInvalidCommand).WithCause(ErrEmptyLine)
	}

	word := strings.ToLower(words[0])
	args := words[1:]

	e, ok := g.Resolve(word)
	if !ok {
		return nil, texterr.Parse(MsgInvalidCommand).
			WithCause(ErrUnknownCommand).
			WithContext("command", word)
	}
	if len(args) < e.MinArgs || len(args) > e.MaxArgs {
		return nil, texterr.Parse(MsgInvalidCommand).
			WithCause(ErrArity).
			WithContext("command", e.Name).
			WithContext("args", len(args))
	}

	return e.Build(args), nil
}

// Usage returns the help listing, one command per line in name order.
func (g *Grammar) Usage() string {
	names := make([]string, 0, len(g.entries))
	for name := range g.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][2]string, 0, len(names))
	width := 0
	for _, name := range names {
		e := g.entries[name]
		synopsis := name
		for _, a := range e.Aliases {
			synopsis += "|" + a
		}
		if e.Usage != "" {
			synopsis += " " + e.Usage
		}
		if len(synopsis) > width {
			width = len(synopsis)
		}
		rows = append(rows, [2]string{synopsis, e.Help})
	}

	var b strings.Builder
	b.WriteString("Available commands:")
	for _, row := range rows {
		fmt.Fprintf(&b, "\n  %-*s  %s", width, row[0], row[1])
	}
	return b.String()
}
