// issuetoken mints a contributor JWT signed with the server's private key.
//
// Usage (run from the repo root, after scripts/genkey):
//
//	go run scripts/issuetoken/main.go -id build-agent-7 -type agent
//	go run scripts/issuetoken/main.go -id alice -type human -ttl 720h
//
// The token is printed to stdout and can be passed to the API as a
// Bearer token or to MCP clients as their credential.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kioku-ai/kioku/internal/auth"
	"github.com/kioku-ai/kioku/internal/model"
)

func main() {
	var (
		contributorID   = flag.String("id", "", "contributor identifier (required)")
		contributorType = flag.String("type", "agent", "contributor type: agent or human")
		keyPath         = flag.String("key", "data/jwt_private.pem", "path to the Ed25519 private key PEM")
		pubPath         = flag.String("pub", "data/jwt_public.pem", "path to the Ed25519 public key PEM")
		ttl             = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	if *contributorID == "" {
		fmt.Fprintln(os.Stderr, "error: -id is required")
		flag.Usage()
		os.Exit(1)
	}

	ct, err := model.ParseContributorType(*contributorType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	mgr, err := auth.NewTokenManager(*keyPath, *pubPath, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load keys: %v\n", err)
		os.Exit(1)
	}

	token, expiresAt, err := mgr.IssueToken(*contributorID, ct)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
}
