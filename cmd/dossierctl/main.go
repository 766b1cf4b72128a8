// Command dossierctl is the operator CLI for dossier access: it mints
// capability links and development sessions, and seals payloads for storage.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"sanamind.org/internal/auth"
	"sanamind.org/internal/capability"
	"sanamind.org/internal/cipher"
	"sanamind.org/internal/config"
	"sanamind.org/internal/dossier"
	"sanamind.org/internal/store/pg"
)

const usage = `usage: dossierctl <command> [flags]

Commands:
  link      mint a capability download link for a therapist
  session   mint a session token (refused in production)
  seal      encrypt a payload document and optionally store the dossier

Run "dossierctl <command> --help" for command flags.
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "dossierctl:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "link":
		return runLink(args[1:], stdout)
	case "session":
		return runSession(args[1:], stdout)
	case "seal":
		return runSeal(args[1:], stdin, stdout)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newFlags(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet("dossierctl "+name, pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", os.Getenv("SANAMIND_CONFIG"), "path to YAML config file")
	return flags, configPath
}

func parse(flags *pflag.FlagSet, args []string) (bool, error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func runLink(args []string, stdout io.Writer) error {
	flags, configPath := newFlags("link")
	dossierID := flags.String("dossier", "", "dossier id")
	grantee := flags.String("grantee", "", "therapist user id")
	ttl := flags.Duration("ttl", 0, "link lifetime (default: configured capability TTL)")
	if ok, err := parse(flags, args); !ok {
		return err
	}
	if *dossierID == "" || *grantee == "" {
		return errors.New("--dossier and --grantee are required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	tokens, err := capability.NewService([]byte(cfg.Capability.Secret), cfg.Capability.BaseURL,
		capability.WithDefaultTTL(cfg.Capability.DefaultTTL),
		capability.WithIssuer(cfg.Capability.Issuer),
	)
	if err != nil {
		return err
	}
	link, err := tokens.Mint(*dossierID, *grantee, *ttl)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"url": link.URL, "expires_at": link.ExpiresAt})
}

func runSession(args []string, stdout io.Writer) error {
	flags, configPath := newFlags("session")
	userID := flags.String("user", "", "user id")
	role := flags.String("role", "", "ADMIN, CLIENT or THERAPIST")
	email := flags.String("email", "", "optional email claim")
	ttl := flags.Duration("ttl", time.Hour, "session lifetime")
	if ok, err := parse(flags, args); !ok {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if strings.EqualFold(cfg.Environment, "production") {
		return errors.New("refusing to mint sessions in production")
	}
	r := dossier.ParseRole(*role)
	if r == "" {
		return fmt.Errorf("unknown role %q", *role)
	}
	sessions, err := auth.NewSessions([]byte(cfg.Session.Secret), auth.WithTTL(cfg.Session.TTL))
	if err != nil {
		return err
	}
	token, exp, err := sessions.Issue(dossier.Actor{ID: *userID, Role: r, Email: *email}, *ttl)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"token": token, "expires_at": exp})
}

func runSeal(args []string, stdin io.Reader, stdout io.Writer) error {
	flags, configPath := newFlags("seal")
	in := flags.String("in", "-", "payload JSON file, - for stdin")
	keyID := flags.String("key", "", "key id (default: current key)")
	insert := flags.Bool("insert", false, "store the sealed dossier in Postgres")
	dossierID := flags.String("dossier", "", "dossier id (with --insert)")
	clientID := flags.String("client", "", "owning client user id (with --insert)")
	triage := flags.String("triage-session", "", "triage session id (with --insert)")
	risk := flags.String("risk", "", "risk level (with --insert)")
	redFlags := flags.StringSlice("red-flag", nil, "red flag, repeatable (with --insert)")
	recommend := flags.StringSlice("recommend", nil, "recommended therapist profile ids in order (with --insert)")
	retention := flags.Duration("retention", 90*24*time.Hour, "time until the dossier expires (with --insert)")
	if ok, err := parse(flags, args); !ok {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	keys, err := cipher.ParseKeys(cfg.Cipher.Keys, cfg.Cipher.Order)
	if err != nil {
		return err
	}
	if *keyID == "" {
		*keyID = keys.Current()
	}

	raw, err := readInput(*in, stdin)
	if err != nil {
		return err
	}
	payload, err := dossier.DecodePayload(raw)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	plain, err := dossier.EncodePayload(payload)
	if err != nil {
		return err
	}
	sealed, err := keys.Encrypt(plain, *keyID)
	if err != nil {
		return err
	}

	if !*insert {
		return writeJSON(stdout, map[string]any{
			"encryption_key_id": *keyID,
			"encrypted_payload": base64.StdEncoding.EncodeToString(sealed),
		})
	}

	if cfg.Database.DSN == "" {
		return errors.New("--insert needs database.dsn")
	}
	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now().UTC()
	d := dossier.Dossier{
		ID:                             *dossierID,
		ClientID:                       *clientID,
		TriageSessionID:                *triage,
		RecommendedTherapistProfileIDs: *recommend,
		RiskLevel:                      *risk,
		RedFlags:                       *redFlags,
		Version:                        dossier.CurrentPayloadVersion,
		CreatedAt:                      now,
		ExpiresAt:                      now.Add(*retention),
		EncryptedPayload:               sealed,
		EncryptionKeyID:                *keyID,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.InsertDossier(ctx, d); err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"id": d.ID, "expires_at": d.ExpiresAt, "encryption_key_id": *keyID})
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
