package main

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
)

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	err := writeReport(&buf, map[string]decimal.Decimal{
		"o2": decimal.RequireFromString("-12.5"),
		"o1": decimal.NewFromInt(40),
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "owner_id,balance,kind\no1,40.00,credit\no2,-12.50,debt\n"
	if buf.String() != want {
		t.Fatalf("unexpected report:\n%s", buf.String())
	}
}
