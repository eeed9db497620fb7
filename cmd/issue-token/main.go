// Command issue-token prints a signed access token for an owner, for local
// development and for service accounts that call the API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/phrazzld/adlens/internal/config"
	"github.com/phrazzld/adlens/internal/service/auth"
)

func main() {
	owner := flag.String("owner", "", "owner UUID; a new one is generated when empty")
	lifetime := flag.Int("lifetime", 60, "token lifetime in minutes")
	flag.Parse()

	if err := run(*owner, *lifetime); err != nil {
		fmt.Fprintln(os.Stderr, "issue-token:", err)
		os.Exit(1)
	}
}

func run(owner string, lifetime int) error {
	_ = godotenv.Load()

	ownerID := uuid.New()
	if owner != "" {
		parsed, err := uuid.Parse(owner)
		if err != nil {
			return fmt.Errorf("invalid owner: %w", err)
		}
		ownerID = parsed
	}

	tokens, err := auth.NewTokenService(config.AuthConfig{
		JWTSecret:            os.Getenv(config.EnvPrefix + "_AUTH_JWT_SECRET"),
		TokenLifetimeMinutes: lifetime,
	})
	if err != nil {
		return err
	}

	token, err := tokens.GenerateToken(context.Background(), ownerID)
	if err != nil {
		return err
	}

	fmt.Printf("owner: %s\ntoken: %s\n", ownerID, token)
	return nil
}
