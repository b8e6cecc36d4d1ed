package feed

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalize_IdentityFields(t *testing.T) {
	r := Normalize(Record{VIN: " 1hgcm82633a004352 ", StockNumber: "stk-99", RawStatus: " In Stock "})
	if r.VIN != "1HGCM82633A004352" {
		t.Fatalf("VIN = %q", r.VIN)
	}
	if r.StockNumber != "STK-99" {
		t.Fatalf("StockNumber = %q", r.StockNumber)
	}
	if r.RawStatus != "in stock" {
		t.Fatalf("RawStatus = %q", r.RawStatus)
	}
}

func TestNormalize_NameCasing(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"HONDA", "Honda"},
		{"honda", "Honda"},
		{"BMW", "BMW"},        // short acronym preserved
		{"GMC", "GMC"},        // short acronym preserved
		{"grand CHEROKEE", "Grand Cherokee"},
		{"  land  rover ", "Land Rover"},
	}
	for _, c := range cases {
		got := Normalize(Record{Make: c.in}).Make
		if got != c.want {
			t.Fatalf("Normalize(%q).Make = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestByVIN_DropsBlankAndDuplicateVINs(t *testing.T) {
	recs := []Record{
		{VIN: "VINA", Mileage: 10},
		{VIN: ""},
		{VIN: "vina", Mileage: 99}, // duplicate after normalization; first wins
		{VIN: "VINB", Price: decimal.NewFromInt(5000)},
	}
	m := ByVIN(recs)
	if len(m) != 2 {
		t.Fatalf("len = %d, want 2", len(m))
	}
	if m["VINA"].Mileage != 10 {
		t.Fatalf("duplicate VIN overwrote first listing: %+v", m["VINA"])
	}
	if !m["VINB"].Price.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("VINB price = %s", m["VINB"].Price)
	}
}
