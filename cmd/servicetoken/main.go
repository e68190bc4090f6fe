// Command servicetoken mints a bearer token for the ingest/ops API.
// It is used to credential the feed fetcher and operator tooling that call
// the /v1 endpoints.
//
// Usage:
//
//	servicetoken --service=fetcher [--ttl=720h]
//
// Requires AUTH_JWT_SECRET environment variable to be set. AUTH_JWT_ISSUER
// is optional and defaults to "newsline".
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/auth"
)

func main() {
	service := flag.String("service", "", "service name the token identifies")
	ttl := flag.Duration("ttl", 720*time.Hour, "token lifetime")
	flag.Parse()

	if *service == "" {
		fmt.Fprintln(os.Stderr, "Usage: servicetoken --service=fetcher [--ttl=720h]")
		os.Exit(1)
	}

	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		log.Fatal("AUTH_JWT_SECRET environment variable is required")
	}
	issuer := os.Getenv("AUTH_JWT_ISSUER")
	if issuer == "" {
		issuer = "newsline"
	}

	mgr := auth.NewJWTManager(secret, issuer, *ttl)
	token, err := mgr.GenerateServiceToken(*service)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}

	fmt.Println(token)
}
