// Package dispatch executes parsed commands against a session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/nightraid/internal/command"
	"github.com/cory-johannsen/nightraid/internal/credential"
	"github.com/cory-johannsen/nightraid/internal/observability"
	"github.com/cory-johannsen/nightraid/internal/session"
	"github.com/cory-johannsen/nightraid/internal/storage"
	"github.com/cory-johannsen/nightraid/internal/texterr"
)

// Success replies.
const (
	ReplyPong    = "pong"
	ReplyLogin   = "login"
	ReplyGoodbye = "goodbye"
)

// Public failure messages.
const (
	MsgInvalidToken  = "invalid token"
	MsgUsernameTaken = "username already taken"
)

// DefaultCallTimeout bounds each credential store round trip.
const DefaultCallTimeout = 5 * time.Second

// maxRegisterAttempts bounds retries on token collisions and on clashes of
// generated usernames.
const maxRegisterAttempts = 4

var (
	errEmptyToken     = errors.New("empty token")
	errMalformedToken = errors.New("malformed token")
)

// CredentialStore defines the persistence operations required by the Dispatcher.
type CredentialStore interface {
	FindUserByToken(ctx context.Context, token string) (storage.User, error)
	UpdateUser(ctx context.Context, u storage.User) error
	CreateUser(ctx context.Context, username, token string) (storage.User, error)
}

// Result is the outcome of a successful dispatch.
type Result struct {
	// Reply is written to the client unless empty.
	Reply string
	// Close asks the caller to end the session after writing Reply.
	Close bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithGrammar sets the grammar whose usage the help command prints.
func WithGrammar(g *command.Grammar) Option {
	return func(d *Dispatcher) { d.grammar = g }
}

// WithClock sets the time source used for last_login.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithCallTimeout sets the per-call store timeout. Non-positive values are ignored.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.callTimeout = timeout
		}
	}
}

// WithFarewell sets the reply sent before an exit closes the session.
func WithFarewell(text string) Option {
	return func(d *Dispatcher) { d.farewell = text }
}

// WithUsernameGenerator sets the source of usernames for register without an argument.
func WithUsernameGenerator(gen func() string) Option {
	return func(d *Dispatcher) { d.usernames = gen }
}

// Dispatcher maps commands to their effects and replies.
// It is safe for concurrent use by many sessions; each Session must only be
// dispatched from the goroutine that owns it.
type Dispatcher struct {
	store       CredentialStore
	tokens      credential.TokenGenerator
	usernames   func() string
	grammar     *command.Grammar
	logger      *zap.Logger
	recorder    observability.Recorder
	now         func() time.Time
	callTimeout time.Duration
	farewell    string
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: store, tokens, logger and recorder must be non-nil.
// Postcondition: Returns a Dispatcher using the default grammar, the wall
// clock, DefaultCallTimeout and ReplyGoodbye unless overridden by opts.
func NewDispatcher(
	store CredentialStore,
	tokens credential.TokenGenerator,
	logger *zap.Logger,
	recorder observability.Recorder,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		tokens:      tokens,
		usernames:   credential.GenerateUsername,
		grammar:     command.DefaultGrammar(),
		logger:      logger,
		recorder:    recorder,
		now:         time.Now,
		callTimeout: DefaultCallTimeout,
		farewell:    ReplyGoodbye,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes cmd against sess.
//
// Postcondition: Returns a Result, or a *texterr.Error describing the failure.
// A failure never marks the session closing.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, cmd command.Command) (res Result, err error) {
	defer func() {
		outcome := observability.OutcomeOK
		if err != nil {
			outcome = observability.OutcomeError
		}
		d.recorder.CommandHandled(cmd.Name(), outcome)
	}()

	switch c := cmd.(type) {
	case command.Ping:
		return Result{Reply: ReplyPong}, nil
	case command.Exit:
		return d.exit(sess), nil
	case command.Login:
		return d.login(ctx, sess, c)
	case command.Register:
		return d.register(ctx, sess, c)
	case command.Help:
		return Result{Reply: d.grammar.Usage()}, nil
	default:
		return Result{}, texterr.Internal(fmt.Errorf("unhandled command type %T", cmd))
	}
}

func (d *Dispatcher) exit(sess *session.Session) Result {
	if !sess.MarkClosing() {
		return Result{}
	}
	d.logger.Info("client quit",
		zap.String("session_id", sess.ID()),
		zap.Duration("session_duration", d.now().Sub(sess.ConnectedAt())),
	)
	return Result{Reply: d.farewell, Close: true}
}

func (d *Dispatcher) login(ctx context.Context, sess *session.Session, c command.Login) (Result, error) {
	invalid := texterr.Auth(MsgInvalidToken)
	if c.Token == "" {
		return Result{}, invalid.WithCause(errEmptyToken)
	}
	if !credential.WellFormed(c.Token) {
		return Result{}, invalid.WithCause(errMalformedToken).WithContext("token_len", len(c.Token))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	start := time.Now()
	u, err := d.store.FindUserByToken(callCtx, c.Token)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return Result{}, invalid.WithCause(err)
		}
		return Result{}, texterr.Store(fmt.Errorf("finding user by token: %w", err)).
			WithContext("elapsed", time.Since(start))
	}

	u.LastLogin = d.now().UTC()
	u.MachineAddress = sess.RemoteHost()
	if err := d.store.UpdateUser(callCtx, u); err != nil {
		return Result{}, texterr.Store(fmt.Errorf("updating user %d: %w", u.ID, err)).
			WithContext("user_id", u.ID)
	}

	rebind := sess.Authenticated()
	sess.Bind(&u)
	d.logger.Info("user logged in",
		zap.String("session_id", sess.ID()),
		zap.String("remote_addr", sess.RemoteAddr()),
		zap.Int64("user_id", u.ID),
		zap.String("username", u.Username),
		zap.Bool("rebind", rebind),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{Reply: ReplyLogin}, nil
}

func (d *Dispatcher) register(ctx context.Context, sess *session.Session, c command.Register) (Result, error) {
	username := c.Username
	generated := username == ""
	if generated {
		username = d.usernames()
	} else if err := credential.ValidateUsername(username); err != nil {
		return Result{}, texterr.Validation(err.Error()).WithCause(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		token, err := d.tokens()
		if err != nil {
			return Result{}, texterr.Internal(fmt.Errorf("generating token: %w", err))
		}

		u, err := d.store.CreateUser(callCtx, username, token)
		switch {
		case err == nil:
			d.logger.Info("user registered",
				zap.String("session_id", sess.ID()),
				zap.String("remote_addr", sess.RemoteAddr()),
				zap.Int64("user_id", u.ID),
				zap.String("username", u.Username),
				zap.Bool("generated_username", generated),
			)
			return Result{Reply: token}, nil
		case errors.Is(err, storage.ErrTokenCollision):
			lastErr = err
			continue
		case errors.Is(err, storage.ErrUserExists):
			if !generated {
				return Result{}, texterr.Validation(MsgUsernameTaken).
					WithCause(err).
					WithContext("username", username)
			}
			lastErr = err
			username = d.usernames()
			continue
		default:
			return Result{}, texterr.Store(fmt.Errorf("creating user %q: %w", username, err))
		}
	}
	return Result{}, texterr.Store(fmt.Errorf("registering after %d attempts: %w", maxRegisterAttempts, lastErr))
}
