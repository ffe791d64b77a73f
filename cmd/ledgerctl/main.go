package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"

	"rentchain-ledger/internal/api"
	"rentchain-ledger/internal/config"
	"rentchain-ledger/internal/db"
	"rentchain-ledger/pkg/ledger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one command and returns the process exit status: 0 on
// success, 1 on error, 2 when verification finds a broken chain.
func run(argv []string) int {
	if len(argv) < 1 {
		usage()
		return 1
	}
	cmd, args := argv[0], argv[1:]
	flags := parseFlags(args)
	out := newPrinter(flags["format"] == "pretty")

	if cmd == "token" {
		return exitCode(handleToken(out, flags))
	}
	if !knownCommand(cmd) {
		usage()
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		return fail("config: %v", err)
	}
	slog.SetDefault(slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, closeStore, err := db.OpenStore(ctx, cfg)
	if err != nil {
		return fail("open store: %v", err)
	}
	defer closeStore()

	svc := ledger.NewService(store,
		ledger.WithStoreTimeout(cfg.StoreTimeout),
		ledger.WithVerifyTimeout(cfg.VerifyTimeout),
	)

	switch cmd {
	case "init":
		// OpenStore already ran EnsureTable.
		return exitCode(out.status("ledger_events table ready"))
	case "append":
		return exitCode(handleAppend(ctx, svc, out, flags))
	case "note":
		return exitCode(handleNote(ctx, svc, out, flags))
	case "list":
		return exitCode(handleList(ctx, svc, out, flags))
	case "get":
		return exitCode(handleGet(ctx, svc, out, args, flags))
	default: // verify
		return handleVerify(ctx, svc, out, flags)
	}
}

func knownCommand(cmd string) bool {
	switch cmd {
	case "init", "append", "note", "list", "get", "verify":
		return true
	}
	return false
}

func handleAppend(ctx context.Context, svc *ledger.Service, out *printer, flags map[string]string) error {
	scope, err := requireScope(flags)
	if err != nil {
		return err
	}
	d, err := draftFromFlags(flags)
	if err != nil {
		return err
	}
	e, err := svc.AppendEvent(ctx, scope, d)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return out.event(e)
}

func handleNote(ctx context.Context, svc *ledger.Service, out *printer, flags map[string]string) error {
	scope, err := requireScope(flags)
	if err != nil {
		return err
	}
	occurredAt, err := int64Flag(flags, "occurred-at")
	if err != nil {
		return err
	}
	e, err := svc.AppendNote(ctx, scope, ledger.NoteInput{
		Title:      flags["title"],
		Summary:    flags["summary"],
		PropertyID: flags["property"],
		TenantID:   flags["tenant"],
		OccurredAt: occurredAt,
		Actor:      ledger.Actor{Type: ledger.ActorLandlord, UserID: flags["user"], Email: flags["email"]},
	})
	if err != nil {
		return fmt.Errorf("note: %w", err)
	}
	return out.event(e)
}

func handleList(ctx context.Context, svc *ledger.Service, out *printer, flags map[string]string) error {
	scope, err := requireScope(flags)
	if err != nil {
		return err
	}
	q, err := queryFromFlags(flags)
	if err != nil {
		return err
	}
	page, err := svc.ListEvents(ctx, scope, q)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	return out.page(page)
}

func handleGet(ctx context.Context, svc *ledger.Service, out *printer, args []string, flags map[string]string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "--") {
		return errors.New("usage: ledgerctl get <id> --scope=ID")
	}
	scope, err := requireScope(flags)
	if err != nil {
		return err
	}
	e, err := svc.GetEvent(ctx, scope, args[0])
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	return out.event(e)
}

func handleVerify(ctx context.Context, svc *ledger.Service, out *printer, flags map[string]string) int {
	scope, err := requireScope(flags)
	if err != nil {
		return exitCode(err)
	}
	var res ledger.VerifyResult
	if _, full := flags["full"]; full {
		res, err = svc.VerifyFullChain(ctx, scope)
	} else {
		res, err = svc.VerifyChain(ctx, scope, intFlag(flags, "limit", ledger.DefaultVerifyLimit))
	}
	if err != nil {
		return fail("verify: %v", err)
	}
	if err := out.verify(res); err != nil {
		return exitCode(err)
	}
	if !res.OK {
		return 2
	}
	return 0
}

func handleToken(out *printer, flags map[string]string) error {
	secret := flags["secret"]
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	ttl := 24 * time.Hour
	if v := flags["ttl"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("--ttl: %w", err)
		}
		ttl = d
	}
	claims := api.Claims{
		Email:      flags["email"],
		Role:       flags["role"],
		LandlordID: flags["landlord"],
	}
	claims.Subject = flags["sub"]
	if claims.Subject == "" {
		return errors.New("--sub is required")
	}
	if claims.Role == "" {
		claims.Role = "landlord"
	}
	if claims.Scope() == "" {
		return errors.New("token would not be bound to a ledger scope; pass --landlord or --role=landlord")
	}
	tok, err := api.SignToken(secret, claims, ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	return out.token(tok, claims.Scope(), ttl)
}

// draftFromFlags builds an event draft from append flags.
func draftFromFlags(flags map[string]string) (ledger.Draft, error) {
	d := ledger.Draft{
		EventType:  ledger.EventType(strings.ToUpper(flags["type"])),
		Title:      flags["title"],
		Summary:    flags["summary"],
		Currency:   flags["currency"],
		PropertyID: flags["property"],
		UnitID:     flags["unit"],
		TenantID:   flags["tenant"],
		LeaseID:    flags["lease"],
		PaymentID:  flags["payment"],
		Actor:      ledger.Actor{Type: ledger.ActorType(strings.ToUpper(flags["actor"])), UserID: flags["user"], Email: flags["email"]},
	}
	if d.EventType == "" {
		return d, fmt.Errorf("--type is required (one of %v)", ledger.EventTypes)
	}
	if v := flags["amount"]; v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return d, fmt.Errorf("--amount: %w", err)
		}
		d.Amount = &amount
	}
	occurredAt, err := int64Flag(flags, "occurred-at")
	if err != nil {
		return d, err
	}
	d.OccurredAt = occurredAt
	if v := flags["tags"]; v != "" {
		d.Tags = strings.Split(v, ",")
	}
	if v := flags["metadata"]; v != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(v)))
		dec.UseNumber()
		if err := dec.Decode(&d.Metadata); err != nil {
			return d, fmt.Errorf("--metadata: parse JSON object: %w", err)
		}
	}
	return d, nil
}

func queryFromFlags(flags map[string]string) (ledger.Query, error) {
	q := ledger.Query{
		Filter: ledger.Filter{
			PropertyID: flags["property"],
			TenantID:   flags["tenant"],
			EventType:  ledger.EventType(strings.ToUpper(flags["type"])),
		},
		Limit: intFlag(flags, "limit", 20),
	}
	c, err := int64Flag(flags, "cursor")
	if err != nil {
		return q, err
	}
	q.Cursor = c
	return q, nil
}

func requireScope(flags map[string]string) (string, error) {
	scope := flags["scope"]
	if scope == "" {
		return "", errors.New("--scope is required")
	}
	return scope, nil
}

// parseFlags parses --key=value and --flag style args into a map.
func parseFlags(args []string) map[string]string {
	flags := make(map[string]string)
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		arg = strings.TrimPrefix(arg, "--")
		if k, v, ok := strings.Cut(arg, "="); ok {
			flags[k] = v
		} else {
			flags[arg] = ""
		}
	}
	return flags
}

func intFlag(flags map[string]string, key string, defaultVal int) int {
	if v, ok := flags[key]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// int64Flag returns nil when key is absent or empty.
func int64Flag(flags map[string]string, key string) (*int64, error) {
	v := flags[key]
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("--%s: expected epoch milliseconds: %w", key, err)
	}
	return &n, nil
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, "ledgerctl: "+format+"\n", args...)
	return 1
}

func exitCode(err error) int {
	if err != nil {
		return fail("%v", err)
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: ledgerctl <command> [--format=pretty]

Commands:
  init     Create the ledger_events table for STORE_DRIVER
  append   Append an event (--scope --type --title [--summary --amount --currency
           --occurred-at --property --unit --tenant --lease --payment --tags=a,b
           --metadata=JSON --actor --user --email])
  note     Append a landlord note (--scope --title [--summary --property --tenant --occurred-at])
  list     List events newest first (--scope [--limit --cursor --property --tenant --type])
  get      Show one event (get <id> --scope)
  verify   Verify the hash chain (--scope [--limit=N | --full]); exits 2 when broken
  token    Issue an API bearer token (--sub [--role --landlord --email --ttl --secret])`)
}
