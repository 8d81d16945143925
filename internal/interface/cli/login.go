package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// errLoginFailed reads "invalid user or password"
var errLoginFailed = errors.New("usuário ou senha inválidos")

// requireUser returns --user, default_user or prompts for one
func requireUser(app *App) (string, error) {
	if u := strings.TrimSpace(app.Config.DefaultUser); u != "" {
		return u, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no user given (use --user or CASESIM_USER)")
	}
	fmt.Fprint(os.Stderr, "Usuário: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read user: %w", err)
	}
	u := strings.TrimSpace(line)
	if u == "" {
		return "", errors.New("no user given")
	}
	return u, nil
}

// readPassword takes CASESIM_PASSWORD or prompts without echo
func readPassword(prompt string) (string, error) {
	if pw, ok := os.LookupEnv("CASESIM_PASSWORD"); ok {
		return pw, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no password given (set CASESIM_PASSWORD)")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// login resolves the student and checks their password against the store
func login(ctx context.Context, app *App) (string, error) {
	user, err := requireUser(app)
	if err != nil {
		return "", err
	}
	pw, err := readPassword("Senha: ")
	if err != nil {
		return "", err
	}
	ok, err := app.Store.ValidateCredentials(ctx, user, pw)
	if err != nil {
		return "", fmt.Errorf("failed to validate credentials: %w", err)
	}
	if !ok {
		return "", errLoginFailed
	}
	return user, nil
}
