package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/raine/dairy-console/config"
	"github.com/raine/dairy-console/internal/storage"
	"github.com/raine/dairy-console/internal/token"
)

func main() {
	var raw string
	var fromStore bool

	flag.StringVar(&raw, "token", "", "JWT to decode")
	flag.BoolVar(&fromStore, "stored", false, "Decode the access token in the SQLite credential store")
	flag.Parse()

	// Accept token as positional argument
	if raw == "" && flag.NArg() > 0 {
		raw = flag.Arg(0)
	}

	if fromStore {
		var err error
		raw, err = storedAccessToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading credential store: %v\n", err)
			os.Exit(1)
		}
	}

	if raw == "" {
		fmt.Fprintf(os.Stderr, "Usage: decode-token -token <jwt>\n")
		fmt.Fprintf(os.Stderr, "       decode-token <jwt>\n")
		fmt.Fprintf(os.Stderr, "       decode-token -stored\n")
		os.Exit(1)
	}

	claims, err := token.Decode(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding token: %v\n", err)
		os.Exit(1)
	}

	codec := token.NewCodec()
	expiresAt, _ := codec.ExpiryTimestamp(raw)

	out := struct {
		*token.Claims
		Expired         bool   `json:"expired"`
		ExpiryTimestamp int64  `json:"expiry_timestamp_ms"`
		TimeUntilExpiry string `json:"time_until_expiry"`
	}{
		Claims:          claims,
		Expired:         codec.IsExpired(raw),
		ExpiryTimestamp: expiresAt,
		TimeUntilExpiry: codec.TimeUntilExpiry(raw).Round(time.Second).String(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
}

func storedAccessToken() (string, error) {
	config.LoadEnvFile()
	cfg := config.Load()

	if cfg.Session.TokenKey == "" {
		return "", fmt.Errorf("SESSION_TOKEN_KEY not set")
	}

	p, err := storage.NewSQLiteProvider(cfg.Session.DBPath, cfg.Session.Scope, cfg.Session.TokenKey)
	if err != nil {
		return "", fmt.Errorf("open database at %s: %w", cfg.Session.DBPath, err)
	}
	defer p.Close()

	value, ok, err := p.Get(storage.AccessTokenKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no access token stored for scope %q", cfg.Session.Scope)
	}
	return value, nil
}
