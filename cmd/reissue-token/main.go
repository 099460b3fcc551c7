// Package main provides an operator tool that issues a fresh access token for
// a registered user. The previous token stops working immediately.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cory-johannsen/nightraid/internal/config"
	"github.com/cory-johannsen/nightraid/internal/credential"
	"github.com/cory-johannsen/nightraid/internal/storage"
	"github.com/cory-johannsen/nightraid/internal/storage/postgres"
)

const maxAttempts = 4

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	username := flag.String("username", "", "target username (required)")
	flag.Parse()

	if *username == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg.Server.Store != config.StorePostgres {
		log.Fatalf("store %q keeps no durable users; nothing to reissue", cfg.Server.Store)
	}

	digest, err := credential.NewDigester(cfg.Auth.TokenPepper)
	if err != nil {
		log.Fatalf("creating digester: %v", err)
	}
	tokens, err := credential.NewTokenGenerator(cfg.Auth.TokenBytes)
	if err != nil {
		log.Fatalf("creating token generator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database, "nightraid-reissue-token")
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewUserRepository(pool.DB(), digest)

	var (
		user  storage.User
		token string
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		token, err = tokens()
		if err != nil {
			log.Fatalf("generating token: %v", err)
		}
		user, err = repo.RotateToken(ctx, *username, token)
		if !errors.Is(err, storage.ErrTokenCollision) {
			break
		}
	}
	if err != nil {
		log.Fatalf("reissuing token for %q: %v", *username, err)
	}

	elapsed := time.Since(start)
	fmt.Fprintf(os.Stderr, "reissued token for %s (#%d) [%s]\n", user.Username, user.ID, elapsed)
	fmt.Fprintln(os.Stdout, token)
}
