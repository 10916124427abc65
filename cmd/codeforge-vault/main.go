// Command codeforge-vault manages the tenant credential vault file consumed
// by codeforge-server at startup: adding, rotating, and removing a tenant's
// provider API key out of band, before the server process ever runs.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"codeforge/pkg/vault"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "codeforge-vault:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: codeforge-vault <set|remove|list> [flags]")
	}

	switch args[0] {
	case "set":
		return runSet(args[1:])
	case "remove":
		return runRemove(args[1:])
	case "list":
		return runList(args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q (want set, remove, or list)", args[0])
	}
}

func runSet(args []string) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	path := fs.String("vault", ".codeforge/vault.bin", "path to the vault file")
	tenantID := fs.String("tenant", "", "tenant id to add or update")
	provider := fs.String("provider", "", "provider name (anthropic, openai, ollama, google)")
	model := fs.String("model", "", "model override, or empty to use the provider default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *provider == "" {
		return fmt.Errorf("set: -tenant and -provider are required")
	}

	password, err := promptPassword("vault password")
	if err != nil {
		return err
	}

	store, err := openOrInit(*path, password)
	if err != nil {
		return err
	}

	apiKey, err := promptPassword(fmt.Sprintf("%s API key for tenant %s", *provider, *tenantID))
	if err != nil {
		return err
	}

	store[*tenantID] = vault.Credential{Provider: *provider, APIKey: apiKey, Model: *model}
	if err := vault.Encrypt(*path, password, store); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	fmt.Printf("tenant %s bound to %s\n", *tenantID, *provider)
	return nil
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	path := fs.String("vault", ".codeforge/vault.bin", "path to the vault file")
	tenantID := fs.String("tenant", "", "tenant id to remove")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" {
		return fmt.Errorf("remove: -tenant is required")
	}

	password, err := promptPassword("vault password")
	if err != nil {
		return err
	}
	store, err := vault.Decrypt(*path, password)
	if err != nil {
		return fmt.Errorf("unlock vault: %w", err)
	}
	if _, ok := store[*tenantID]; !ok {
		return fmt.Errorf("tenant %s has no vault entry", *tenantID)
	}
	delete(store, *tenantID)
	if err := vault.Encrypt(*path, password, store); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	fmt.Printf("tenant %s removed\n", *tenantID)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	path := fs.String("vault", ".codeforge/vault.bin", "path to the vault file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := promptPassword("vault password")
	if err != nil {
		return err
	}
	store, err := vault.Decrypt(*path, password)
	if err != nil {
		return fmt.Errorf("unlock vault: %w", err)
	}
	for tenantID, cred := range store {
		model := cred.Model
		if model == "" {
			model = "(provider default)"
		}
		fmt.Printf("%s\t%s\t%s\n", tenantID, cred.Provider, model)
	}
	return nil
}

// openOrInit decrypts an existing vault at path, or returns an empty store
// for a path that doesn't exist yet — the first `set` call creates it.
func openOrInit(path, password string) (vault.Store, error) {
	if !vault.Exists(path) {
		return vault.Store{}, nil
	}
	return vault.Decrypt(path, password)
}

func promptPassword(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return string(pw), nil
}
