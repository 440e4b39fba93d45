package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type apiKeyStore interface {
	CreateAPIKey(ctx context.Context, userID int64, name string) (string, string, error)
	RevokeAPIKey(ctx context.Context, keyID string) error
}

const apiKeyUsage = "usage: api-key create -user <id> [-name <name>] | api-key revoke <key-id>"

// runAPIKeyCommand handles "api-key create" and "api-key revoke". A created
// key is printed once as the bearer token "keyID.secret".
func runAPIKeyCommand(ctx context.Context, args []string, store apiKeyStore, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(apiKeyUsage)
	}

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("api-key create", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		userFlag := fs.String("user", "", "owning user ID")
		name := fs.String("name", "", "key label")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w\n%s", err, apiKeyUsage)
		}
		userID, err := strconv.ParseInt(strings.TrimSpace(*userFlag), 10, 64)
		if err != nil || userID <= 0 {
			return fmt.Errorf("-user must be a positive integer\n%s", apiKeyUsage)
		}

		keyID, secret, err := store.CreateAPIKey(ctx, userID, strings.TrimSpace(*name))
		if err != nil {
			return fmt.Errorf("create api key: %w", err)
		}
		_, err = fmt.Fprintf(out, "%s.%s\n", keyID, secret)
		return err

	case "revoke":
		if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
			return errors.New(apiKeyUsage)
		}
		if err := store.RevokeAPIKey(ctx, strings.TrimSpace(args[1])); err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		_, err := fmt.Fprintf(out, "revoked %s\n", strings.TrimSpace(args[1]))
		return err

	default:
		return fmt.Errorf("unknown api-key command %q\n%s", args[0], apiKeyUsage)
	}
}
