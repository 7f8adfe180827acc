package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/agoramesh/agora/pkg/audit"
	"github.com/agoramesh/agora/pkg/config"
	"github.com/agoramesh/agora/pkg/crypto"
	"github.com/agoramesh/agora/pkg/store"
)

// runKeygen prints a fresh Ed25519 identity. The private key goes to stdout
// once; agorad never stores agent keys.
func runKeygen(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOut := cmd.Bool("json", false, "emit JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	signer, err := crypto.NewEd25519Signer()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 2
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]string{
			"agent_id":    signer.AgentID(),
			"public_key":  signer.PublicKey(),
			"private_key": signer.PrivateKeyHex(),
		})
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "agent_id:    %s\n", signer.AgentID())
	_, _ = fmt.Fprintf(stdout, "public_key:  %s\n", signer.PublicKey())
	_, _ = fmt.Fprintf(stdout, "private_key: %s\n", signer.PrivateKeyHex())
	return 0
}

// runExport builds an audit bundle straight from the node database, without
// a running server.
func runExport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		configPath = cmd.String("config", "", "path to YAML config file")
		dbPath     = cmd.String("db", "", "node database path (overrides config)")
		jobID      = cmd.String("job", "", "job identifier (required)")
		out        = cmd.String("out", "", "output file (default stdout)")
		jsonl      = cmd.Bool("events-jsonl", false, "emit events as JSON lines instead of a bundle")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *jobID == "" {
		_, _ = fmt.Fprintln(stderr, "export: --job is required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
		return 2
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if cfg.DatabasePath == "" {
		_, _ = fmt.Fprintln(stderr, "export: no database configured (--db or database_path)")
		return 2
	}
	if cfg.AuthorityKeyHex == "" {
		_, _ = fmt.Fprintln(stderr, "export: authority_key_hex must be set to identify system events")
		return 2
	}
	authority, err := crypto.NewEd25519SignerFromHex(cfg.AuthorityKeyHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
		return 2
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	reg, err := store.NewSQLiteRegistry(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
		return 2
	}
	chainStore, err := store.NewSQLiteChainStore(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
		return 2
	}
	jobStore, err := store.NewSQLiteJobStore(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
		return 2
	}

	bundle, err := audit.NewBuilder(chainStore, reg, jobStore, authority.AgentID()).
		Build(context.Background(), *jobID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
		return 2
	}

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
			return 2
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	if *jsonl {
		err = bundle.WriteEventsJSONL(w)
	} else {
		err = bundle.WriteJSON(w)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
		return 2
	}
	return 0
}

// runVerify replays a bundle offline and reports validity.
//
// Exit codes: 0 valid, 1 invalid, 2 runtime error.
func runVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		bundlePath = cmd.String("bundle", "", "path to bundle JSON (required)")
		jsonOut    = cmd.Bool("json", false, "emit the full report as JSON")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *bundlePath == "" {
		_, _ = fmt.Fprintln(stderr, "verify: --bundle is required")
		return 2
	}

	bundle, err := audit.ReadBundleFile(*bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "verify: %v\n", err)
		return 2
	}

	report := audit.ReplayVerify(bundle)

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		_, _ = fmt.Fprintf(stdout, "job:      %s\n", report.JobID)
		_, _ = fmt.Fprintf(stdout, "events:   %d\n", report.EventCount)
		_, _ = fmt.Fprintf(stdout, "state:    %s\n", report.FinalState)
		_, _ = fmt.Fprintf(stdout, "valid:    %t\n", report.Valid)
		for _, f := range report.Failures {
			_, _ = fmt.Fprintf(stdout, "  event %d [%s]: %s\n", f.EventIndex, f.Check, f.Reason)
		}
	}

	if !report.Valid {
		return 1
	}
	return 0
}

// runHealth probes a running node.
//
// Exit codes: 0 healthy, 1 unhealthy, 2 runtime error.
func runHealth(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	url := cmd.String("url", "http://localhost:8080", "node base URL")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*url + "/healthz")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "health: %v\n", err)
		return 2
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	_, _ = fmt.Fprintf(stdout, "%s\n", body)
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
