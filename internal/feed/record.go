// Package feed defines the inventory snapshot contract consumed by the
// import reconciler. A Source produces, per dealership location, the list of
// vehicles currently listed on that location's external feed. Transport
// (SFTP drop, upload, vendor API) is a Source implementation detail; the
// reconciler only ever sees normalized Records.
package feed

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrUnavailable indicates the feed for a location could not be read at all.
// The reconciler aborts that location's run and reports the failure to the
// scheduler; it never fabricates a partial snapshot.
var ErrUnavailable = errors.New("feed unavailable")

// Record is one vehicle as listed on a location's feed, keyed by VIN.
type Record struct {
	VIN         string          `json:"vin"`
	StockNumber string          `json:"stock_number"`
	Year        int             `json:"year"`
	Make        string          `json:"make"`
	Model       string          `json:"model"`
	Trim        string          `json:"trim"`
	Price       decimal.Decimal `json:"price"`
	Mileage     int             `json:"mileage"`
	RawStatus   string          `json:"raw_status"`
}

// Source produces the current snapshot for a dealership location, identified
// by its dealer code. Implementations must return ErrUnavailable (possibly
// wrapped) when the snapshot cannot be read.
type Source interface {
	FetchSnapshot(ctx context.Context, locationCode string) ([]Record, error)
}

// titleCaser capitalizes feed name fields; feeds deliver a mix of
// ALL-CAPS and lowercase strings depending on the vendor.
var titleCaser = cases.Title(language.English)

// Normalize returns a copy of r with identity and name fields cleaned up:
// VIN and stock number upper-cased and trimmed, make/model/trim title-cased.
// Short all-caps words (marques like "BMW" or "GMC") are left as delivered.
func Normalize(r Record) Record {
	r.VIN = strings.ToUpper(strings.TrimSpace(r.VIN))
	r.StockNumber = strings.ToUpper(strings.TrimSpace(r.StockNumber))
	r.Make = normalizeName(r.Make)
	r.Model = normalizeName(r.Model)
	r.Trim = normalizeName(r.Trim)
	r.RawStatus = strings.ToLower(strings.TrimSpace(r.RawStatus))
	return r
}

// normalizeName title-cases each word unless it is a short acronym-looking
// token (all caps, up to 4 characters), which is preserved verbatim.
func normalizeName(s string) string {
	words := strings.Fields(strings.TrimSpace(s))
	for i, w := range words {
		if len(w) <= 4 && w == strings.ToUpper(w) && strings.ContainsAny(w, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			continue
		}
		words[i] = titleCaser.String(strings.ToLower(w))
	}
	return strings.Join(words, " ")
}

// ByVIN indexes a snapshot by (normalized) VIN. Later duplicates of the same
// VIN are dropped; feeds occasionally repeat a unit and the first listing
// wins deterministically.
func ByVIN(records []Record) map[string]Record {
	out := make(map[string]Record, len(records))
	for _, r := range records {
		n := Normalize(r)
		if n.VIN == "" {
			continue
		}
		if _, seen := out[n.VIN]; seen {
			continue
		}
		out[n.VIN] = n
	}
	return out
}
