package balance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"community-billing/internal/apperrors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildSheet_IncludesIdleOwnersAndBalances(t *testing.T) {
	owners := []OwnerRef{{ID: "o1", Name: "Anna"}, {ID: "o2", Name: "Boris"}, {ID: "o3", Name: "Clara"}}
	totals := map[string]Totals{
		"o1": {Contributions: dec("100"), Charges: dec("40")},
		"o2": {Contributions: dec("10"), Expenses: dec("5"), Charges: dec("20")},
	}
	sheet := BuildSheet("p1", owners, totals)
	if len(sheet.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(sheet.Rows))
	}
	if !sheet.Rows[0].Balance.Equal(dec("60")) || !sheet.Rows[1].Balance.Equal(dec("-15")) || !sheet.Rows[2].Balance.IsZero() {
		t.Fatalf("unexpected balances %+v", sheet.Rows)
	}
	sum := sheet.Summary()
	want := sum.Contributions.Sub(sum.Expenses).Sub(sum.Charges)
	if !sum.Balance.Equal(want) || !sum.Balance.Equal(dec("45")) {
		t.Fatalf("sheet does not reconcile: %s vs %s", sum.Balance, want)
	}
	nonZero := sheet.NonZero()
	if len(nonZero) != 2 {
		t.Fatalf("expected 2 non-zero balances, got %v", nonZero)
	}
	if _, ok := nonZero["o3"]; ok {
		t.Fatalf("zero balance must be omitted")
	}
}

func TestOpeningEntries(t *testing.T) {
	date := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	entries := OpeningEntries("p2", date, map[string]decimal.Decimal{
		"o2": dec("-12.50"),
		"o1": dec("30"),
		"o3": dec("0"),
	})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].OwnerID != "o1" || entries[0].Kind != KindContribution || entries[0].Description != OpeningBalanceDescription {
		t.Fatalf("unexpected credit entry %+v", entries[0])
	}
	if entries[1].OwnerID != "o2" || entries[1].Kind != KindServiceCharge || !entries[1].Amount.Equal(dec("12.50")) || entries[1].Description != OpeningDebtDescription {
		t.Fatalf("unexpected debt entry %+v", entries[1])
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			t.Fatalf("opening entry invalid: %v", err)
		}
	}
}

func TestEntryValidate(t *testing.T) {
	cases := []Entry{
		{Kind: KindContribution, ServicePeriodID: "p", OwnerID: "o", Amount: dec("-1")},
		{Kind: KindContribution, ServicePeriodID: "p", Amount: dec("1")},
		{Kind: KindServiceCharge, OwnerID: "o", Amount: dec("1")},
		{Kind: "REFUND", ServicePeriodID: "p", OwnerID: "o", Amount: dec("1")},
		{Kind: KindExpense, ServicePeriodID: "p", Amount: dec("1.005")},
	}
	for i, e := range cases {
		if err := e.Validate(); !apperrors.IsValidation(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	community := Entry{Kind: KindExpense, ServicePeriodID: "p", Amount: dec("19.99")}
	if err := community.Validate(); err != nil {
		t.Fatalf("community expense must be valid: %v", err)
	}
}

func TestEntryIsOpening(t *testing.T) {
	cases := []struct {
		entry Entry
		want  bool
	}{
		{Entry{Kind: KindContribution, Description: OpeningBalanceDescription}, true},
		{Entry{Kind: KindServiceCharge, Description: OpeningDebtDescription}, true},
		{Entry{Kind: KindContribution, Description: OpeningDebtDescription}, false},
		{Entry{Kind: KindExpense, Description: OpeningBalanceDescription}, false},
		{Entry{Kind: KindContribution, Description: "March dues"}, false},
	}
	for _, c := range cases {
		if got := c.entry.IsOpening(); got != c.want {
			t.Fatalf("%s %q: expected %v, got %v", c.entry.Kind, c.entry.Description, c.want, got)
		}
	}
}
