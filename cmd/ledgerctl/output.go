package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pterm/pterm"

	"rentchain-ledger/pkg/ledger"
)

// printer writes command results as indented JSON, or with pterm when pretty.
type printer struct {
	w      io.Writer
	pretty bool
}

func newPrinter(pretty bool) *printer {
	return &printer{w: os.Stdout, pretty: pretty}
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

func (p *printer) status(msg string) error {
	if p.pretty {
		pterm.Success.Println(msg)
		return nil
	}
	return p.json(map[string]string{"status": "ok", "message": msg})
}

func (p *printer) event(e *ledger.Event) error {
	if !p.pretty {
		return p.json(e)
	}
	pterm.DefaultBox.WithTitle(pterm.LightCyan(string(e.EventType))).WithTitleTopCenter().Println(eventDetails(e))
	return nil
}

func (p *printer) page(page ledger.Page) error {
	if !p.pretty {
		return p.json(page)
	}
	table, err := eventTable(page.Items)
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	fmt.Fprint(p.w, table)
	if page.NextCursor != nil {
		pterm.Info.Printfln("more events: --cursor=%d", *page.NextCursor)
	}
	return nil
}

func (p *printer) verify(res ledger.VerifyResult) error {
	if !p.pretty {
		return p.json(res)
	}
	if res.OK {
		pterm.Success.Printfln("hash chain intact (%d events checked)", res.Checked)
		return nil
	}
	pterm.Error.Printfln("hash chain broken at index %d (event %s): %s", *res.FirstBadIndex, res.FirstBadID, res.Reason)
	return nil
}

func (p *printer) token(tok, scope string, ttl time.Duration) error {
	if !p.pretty {
		return p.json(map[string]string{"token": tok, "scope": scope, "expiresIn": ttl.String()})
	}
	pterm.Info.Printfln("scope %s, expires in %s", scope, ttl)
	fmt.Fprintln(p.w, tok)
	return nil
}

func eventDetails(e *ledger.Event) string {
	amount := "-"
	if e.Amount != nil {
		amount = e.Amount.StringFixed(2) + " " + e.Currency
	}
	prev := "(genesis)"
	if e.PrevHash != nil {
		prev = *e.PrevHash
	}
	return pterm.Sprintfln("%s\n", pterm.Bold.Sprint(e.Title)) +
		pterm.Sprintfln("id          %s", e.ID) +
		pterm.Sprintfln("scope       %s", e.OwnerScopeID) +
		pterm.Sprintfln("occurred    %s", formatMillis(e.OccurredAt)) +
		pterm.Sprintfln("amount      %s", amount) +
		pterm.Sprintfln("summary     %s", e.Summary) +
		pterm.Sprintfln("prevHash    %s", prev) +
		pterm.Sprintf("hash        %s", e.Hash)
}

func eventTable(events []ledger.Event) (string, error) {
	data := pterm.TableData{{"Occurred", "Type", "Title", "Amount", "Hash"}}
	for _, e := range events {
		amount := ""
		if e.Amount != nil {
			amount = e.Amount.StringFixed(2) + " " + e.Currency
		}
		data = append(data, []string{
			formatMillis(e.OccurredAt),
			string(e.EventType),
			truncStr(e.Title, 40),
			amount,
			truncStr(e.Hash, 12),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func truncStr(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
