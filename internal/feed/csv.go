// CSV-backed feed source. Each location's snapshot is a CSV drop named after
// the dealer code (e.g. data/feeds/ATL-01.csv), the shape most inventory
// syndication vendors deliver over SFTP.
package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// csvHeader is the column order a snapshot file must carry.
var csvHeader = []string{"vin", "stock_number", "year", "make", "model", "trim", "price", "mileage", "status"}

// CSVSource reads per-location snapshot files from a base directory.
type CSVSource struct {
	// Dir is the directory holding one <dealer-code>.csv per location.
	Dir string
}

// NewCSVSource constructs a CSVSource rooted at dir.
func NewCSVSource(dir string) *CSVSource { return &CSVSource{Dir: dir} }

// FetchSnapshot reads and parses the snapshot file for locationCode.
//
// A missing or unreadable file is reported as ErrUnavailable (wrapped) so the
// reconciler can abort the location instead of treating an absent feed as an
// empty lot. Malformed rows abort the snapshot with a row-numbered error:
// a half-parsed feed would soft-delete every vehicle the parser dropped.
func (s *CSVSource) FetchSnapshot(ctx context.Context, locationCode string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.Dir, locationCode+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, locationCode, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading header: %v", ErrUnavailable, locationCode, err)
	}
	if err := checkHeader(header); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", locationCode, err)
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot %s line %d: %w", locationCode, line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s line %d: %w", locationCode, line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// checkHeader verifies column names and order, case-insensitively.
func checkHeader(header []string) error {
	if len(header) != len(csvHeader) {
		return fmt.Errorf("expected %d columns, got %d", len(csvHeader), len(header))
	}
	for i, want := range csvHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return fmt.Errorf("column %d: expected %q, got %q", i, want, header[i])
		}
	}
	return nil
}

// parseRow converts one CSV row into a normalized Record.
func parseRow(row []string) (Record, error) {
	year, err := strconv.Atoi(strings.TrimSpace(row[2]))
	if err != nil {
		return Record{}, fmt.Errorf("year %q: %v", row[2], err)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(row[6]))
	if err != nil {
		return Record{}, fmt.Errorf("price %q: %v", row[6], err)
	}
	mileage, err := strconv.Atoi(strings.TrimSpace(row[7]))
	if err != nil {
		return Record{}, fmt.Errorf("mileage %q: %v", row[7], err)
	}

	rec := Record{
		VIN:         row[0],
		StockNumber: row[1],
		Year:        year,
		Make:        row[3],
		Model:       row[4],
		Trim:        row[5],
		Price:       price,
		Mileage:     mileage,
		RawStatus:   row[8],
	}
	if strings.TrimSpace(rec.VIN) == "" {
		return Record{}, fmt.Errorf("missing vin")
	}
	return Normalize(rec), nil
}
