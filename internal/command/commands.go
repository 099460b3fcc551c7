// Package command provides the line tokenizer, the closed command grammar,
// and the immutable Command values produced by parsing.
package command

// Canonical command names.
const (
	NamePing     = "ping"
	NameExit     = "exit"
	NameLogin    = "login"
	NameRegister = "register"
	NameHelp     = "help"
)

// Command is a parsed client command. The set of implementations is closed:
// Ping, Exit, Login, Register and Help.
type Command interface {
	// Name returns the canonical command name.
	Name() string
	isCommand()
}

// Ping asks the server for a liveness reply.
type Ping struct{}

// Exit ends the session. Typed as "exit" or "quit".
type Exit struct{}

// Login authenticates the session with a secret token.
type Login struct {
	Token string
}

// Register creates a new user. Username is empty when the client did not
// request one.
type Register struct {
	Username string
}

// Help lists the available commands.
type Help struct{}

func (Ping) Name() string     { return NamePing }
func (Exit) Name() string     { return NameExit }
func (Login) Name() string    { return NameLogin }
func (Register) Name() string { return NameRegister }
func (Help) Name() string     { return NameHelp }

func (Ping) isCommand()     {}
func (Exit) isCommand()     {}
func (Login) isCommand()    {}
func (Register) isCommand() {}
func (Help) isCommand()     {}

// Entry describes one command of the grammar.
type Entry struct {
	// Name is the canonical command name.
	Name string
	// Aliases are alternate names for this command.
	Aliases []string
	// Usage is the argument synopsis shown by help, e.g. "<token>".
	Usage string
	// Help is the one-line description shown by help.
	Help string
	// MinArgs and MaxArgs bound the number of arguments after the command word.
	MinArgs int
	MaxArgs int
	// Build constructs the Command from its validated arguments.
	Build func(args []string) Command
}

// BuiltinEntries returns the gateway's command grammar.
func BuiltinEntries() []Entry {
	return []Entry{
		{
			Name: NamePing, Help: "Ping and you shall be ponged",
			Build: func([]string) Command { return Ping{} },
		},
		{
			Name: NameExit, Aliases: []string{"quit"}, Help: "Close the connection",
			Build: func([]string) Command { return Exit{} },
		},
		{
			Name: NameLogin, Usage: "<token>", Help: "Log in with your access token",
			MinArgs: 1, MaxArgs: 1,
			Build: func(args []string) Command { return Login{Token: args[0]} },
		},
		{
			Name: NameRegister, Usage: "[username]", Help: "Create an account and receive an access token",
			MaxArgs: 1,
			Build: func(args []string) Command {
				if len(args) == 0 {
					return Register{}
				}
				return Register{Username: args[0]}
			},
		},
		{
			Name: NameHelp, Aliases: []string{"?"}, Help: "Show available commands",
			Build: func([]string) Command { return Help{} },
		},
	}
}
