// Package cli drives an account store from a terminal.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/tendant/simple-accounts/pkg/accounts"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/validation"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// ErrUsage is returned for an unknown command or missing arguments.
var ErrUsage = errors.New("usage")

const usage = `usage: accounts <command> [args]

commands:
  register                 create an account (prompts for the form)
  login <email>            log in (prompts for the password)
  login-google             log in with the simulated Google provider
  logout                   end the session
  whoami                   print the logged in account
  update <key=value>...    update profile fields of the logged in account
`

// App runs one command against a store.
type App struct {
	store     accounts.AccountStore
	validator *validation.Validator
	in        *bufio.Reader
	out       io.Writer
}

// New creates an App reading prompts from in and writing to out.
func New(store accounts.AccountStore, validator *validation.Validator, in io.Reader, out io.Writer) *App {
	if validator == nil {
		validator = validation.NewValidator("")
	}
	return &App{store: store, validator: validator, in: bufio.NewReader(in), out: out}
}

// Usage writes the command summary.
func (a *App) Usage() {
	fmt.Fprint(a.out, usage)
}

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "register":
		return a.register(ctx)
	case "login":
		if len(rest) != 1 {
			return ErrUsage
		}
		return a.login(ctx, rest[0])
	case "login-google":
		acc, err := a.store.LoginWithProvider(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Logged in as %s\n", acc.Username)
		return nil
	case "logout":
		if err := a.store.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Logged out")
		return nil
	case "whoami":
		return a.whoami(ctx)
	case "update":
		return a.update(ctx, rest)
	default:
		return ErrUsage
	}
}

func (a *App) register(ctx context.Context) error {
	var form validation.RegistrationForm
	var err error

	if form.AccountName, err = a.prompt("Account name"); err != nil {
		return err
	}
	if form.Email, err = a.prompt("Email"); err != nil {
		return err
	}
	if form.Password, err = a.password("Password: "); err != nil {
		return err
	}
	if form.ConfirmPassword, err = a.password("Confirm password: "); err != nil {
		return err
	}

	result := a.validator.Validate(form)
	if !result.Valid() {
		errs := result.Errors()
		fields := make([]string, 0, len(errs))
		for field := range errs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			fmt.Fprintf(a.out, "  %s: %s\n", field, errs[field])
		}
		return domain.NewValidationError(fields[0], "please correct the fields above")
	}

	form = form.Normalize()
	acc, err := a.store.Register(ctx, form.Email, form.Password, form.AccountName, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Registered %s (%s)\n", acc.Username, acc.Email)
	fmt.Fprintf(a.out, "Your page: %s\n", a.validator.PublicURL(acc.Username, "index.html"))
	return nil
}

func (a *App) login(ctx context.Context, email string) error {
	pw, err := a.password("Password: ")
	if err != nil {
		return err
	}
	acc, err := a.store.Login(ctx, email, pw)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s\n", acc.Username)
	return nil
}

func (a *App) whoami(ctx context.Context) error {
	acc, err := a.store.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if acc == nil {
		return domain.ErrNotAuthenticated
	}
	return a.print(acc)
}

func (a *App) update(ctx context.Context, pairs []string) error {
	if len(pairs) == 0 {
		return ErrUsage
	}
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("%w: expected key=value, got %q", ErrUsage, pair)
		}
		fields[key] = value
	}

	acc, err := a.store.UpdateProfile(ctx, fields)
	if err != nil {
		return err
	}
	return a.print(acc)
}

func (a *App) print(acc *domain.Account) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(acc)
}

func (a *App) prompt(label string) (string, error) {
	fmt.Fprintf(a.out, "%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *App) password(label string) (string, error) {
	fmt.Fprint(a.out, label)
	pw, err := readPassword()
	fmt.Fprintln(a.out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
