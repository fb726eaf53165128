package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"
)

func (a *app) passphrase() (string, error) {
	if p, ok := a.env[EnvPassphrase]; ok && p != "" {
		return p, nil
	}
	if a.prompt == nil {
		return "", fmt.Errorf("no passphrase: set %s", EnvPassphrase)
	}
	return a.prompt("Store passphrase: ")
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(label string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", errors.New("interactive passphrase prompt requires a terminal; set " + EnvPassphrase)
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(b), nil
}
