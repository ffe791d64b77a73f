package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"rentchain-ledger/pkg/canonical"
)

// HashVersion is the version of the hashed field set written by this code.
const HashVersion = 1

// ErrUnsupportedHashVersion is returned for events hashed by an unknown field set.
var ErrUnsupportedHashVersion = errors.New("unsupported hash version")

// ComputeEventHash returns the chain hash of e linked to prevHash.
//
// Only the fields listed here are covered; ID, Seq and Hash are not. Absent
// optional values hash as null so the shape of the hashed object never varies.
func ComputeEventHash(e *Event, prevHash *string) (string, error) {
	version := e.HashVersion
	if version == 0 {
		version = HashVersion
	}
	if version != 1 {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedHashVersion, version)
	}

	var amount, currency any
	if e.Amount != nil {
		amount = json.Number(e.Amount.String())
		currency = nullIfEmpty(e.Currency)
	}

	tags := slices.Clone(e.Tags)
	if tags == nil {
		tags = []string{}
	}
	slices.Sort(tags)

	metadata := map[string]any(e.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}

	var prev any
	if prevHash != nil {
		prev = *prevHash
	}

	payload := map[string]any{
		"ownerScopeId": e.OwnerScopeID,
		"eventType":    string(e.EventType),
		"title":        e.Title,
		"summary":      nullIfEmpty(e.Summary),
		"amount":       amount,
		"currency":     currency,
		"occurredAt":   e.OccurredAt,
		"createdAt":    e.CreatedAt,
		"propertyId":   nullIfEmpty(e.PropertyID),
		"unitId":       nullIfEmpty(e.UnitID),
		"tenantId":     nullIfEmpty(e.TenantID),
		"leaseId":      nullIfEmpty(e.LeaseID),
		"paymentId":    nullIfEmpty(e.PaymentID),
		"actor": map[string]any{
			"type":   nullIfEmpty(string(e.Actor.Type)),
			"userId": nullIfEmpty(e.Actor.UserID),
			"email":  nullIfEmpty(e.Actor.Email),
		},
		"tags":        tags,
		"metadata":    metadata,
		"prevHash":    prev,
		"hashVersion": version,
	}

	h, err := canonical.Hash(payload)
	if err != nil {
		return "", fmt.Errorf("hash event: %w", err)
	}
	return h, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
