package feed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSnapshot(t *testing.T, dir, code, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, code+".csv"), []byte(body), 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
}

const validSnapshot = `vin,stock_number,year,make,model,trim,price,mileage,status
1HGCM82633A004352,STK-1,2021,honda,accord,EX-L,24999.00,31250,in_stock
WBA3A5C52CF256987,STK-2,2019,BMW,328i,,19500.50,60410,in_stock
`

func TestCSVSource_FetchSnapshot_ParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "ATL-01", validSnapshot)

	recs, err := NewCSVSource(dir).FetchSnapshot(context.Background(), "ATL-01")
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].Make != "Honda" || recs[0].Model != "Accord" {
		t.Fatalf("normalization missing: %+v", recs[0])
	}
	if recs[0].Year != 2021 || recs[0].Mileage != 31250 {
		t.Fatalf("numeric fields: %+v", recs[0])
	}
	if recs[0].Price.String() != "24999" {
		t.Fatalf("price = %s", recs[0].Price)
	}
	if recs[1].Make != "BMW" {
		t.Fatalf("acronym marque mangled: %q", recs[1].Make)
	}
}

func TestCSVSource_FetchSnapshot_MissingFileIsUnavailable(t *testing.T) {
	_, err := NewCSVSource(t.TempDir()).FetchSnapshot(context.Background(), "NOPE-9")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCSVSource_FetchSnapshot_BadHeader(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "ATL-01", "vin,stock,year,make,model,trim,price,mileage,status\n")
	_, err := NewCSVSource(dir).FetchSnapshot(context.Background(), "ATL-01")
	if err == nil {
		t.Fatal("expected header error")
	}
}

func TestCSVSource_FetchSnapshot_MalformedRowAborts(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "ATL-01",
		"vin,stock_number,year,make,model,trim,price,mileage,status\n"+
			"1HGCM82633A004352,STK-1,not-a-year,honda,accord,,100,5,in_stock\n")
	_, err := NewCSVSource(dir).FetchSnapshot(context.Background(), "ATL-01")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("malformed content is not unavailability: %v", err)
	}
}

func TestCSVSource_FetchSnapshot_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCSVSource(t.TempDir()).FetchSnapshot(ctx, "ATL-01")
	if err == nil {
		t.Fatal("expected context error")
	}
}
