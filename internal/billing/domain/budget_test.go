package billing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func property(id, owner, weight string, active, conservation bool) Property {
	p := Property{ID: id, OwnerID: owner, IsActive: active, IsConservation: conservation}
	if weight != "" {
		p.ShareWeight = decimal.NewNullDecimal(dec(weight))
	}
	return p
}

func TestMainBills_SingleFullWeightProperty(t *testing.T) {
	out := BudgetCalculator{}.Main(
		[]Property{property("p1", "o1", "100", true, false)},
		BudgetInput{YearBudget: dec("12000"), PeriodMonths: 1},
	)
	if len(out) != 1 || out[0].Amount.StringFixed(2) != "1000.00" {
		t.Fatalf("unexpected main bills %+v", out)
	}
}

func TestMainBills_SumsPerOwnerAndSkipsInactive(t *testing.T) {
	out := BudgetCalculator{}.Main([]Property{
		property("p1", "o1", "10", true, false),
		property("p2", "o1", "5", true, false),
		property("p3", "o2", "20", false, false),
		property("p4", "o2", "", true, false),
		property("p5", "o3", "2.5", true, true),
	}, BudgetInput{YearBudget: dec("24000"), PeriodMonths: 3})
	if len(out) != 2 {
		t.Fatalf("expected 2 owners, got %+v", out)
	}
	// 24000*3/12 = 6000 per 100 weight
	if out[0].OwnerID != "o1" || out[0].Amount.StringFixed(2) != "900.00" {
		t.Fatalf("unexpected o1 %+v", out[0])
	}
	if out[1].OwnerID != "o3" || out[1].Amount.StringFixed(2) != "150.00" {
		t.Fatalf("unexpected o3 %+v", out[1])
	}
}

func TestConservation_NormalizesWeights(t *testing.T) {
	props := []Property{
		property("p1", "o1", "25", true, true),
		property("p2", "o2", "75", true, true),
		property("p3", "o3", "40", true, false),
	}
	out := BudgetCalculator{}.Conservation(props, BudgetInput{YearBudget: dec("1200"), PeriodMonths: 1})
	if len(out) != 2 {
		t.Fatalf("expected 2 owners, got %+v", out)
	}
	if out[0].Amount.StringFixed(2) != "25.00" || out[1].Amount.StringFixed(2) != "75.00" {
		t.Fatalf("unexpected conservation bills %+v", out)
	}
}

func TestConservation_RecoversBudgetFromSubset(t *testing.T) {
	props := []Property{
		property("p1", "o1", "10", true, true),
		property("p2", "o2", "30", true, true),
		property("p3", "o3", "60", true, false),
	}
	out := BudgetCalculator{}.Conservation(props, BudgetInput{YearBudget: dec("1200"), PeriodMonths: 1})
	// coefficient 100/40 = 2.5 -> 25 and 75
	if out[0].Amount.StringFixed(2) != "25.00" || out[1].Amount.StringFixed(2) != "75.00" {
		t.Fatalf("unexpected conservation bills %+v", out)
	}
	if !out[0].Weight.Equal(dec("25")) || !out[1].Weight.Equal(dec("75")) {
		t.Fatalf("unexpected normalized weights %s/%s", out[0].Weight, out[1].Weight)
	}
}

func TestBudget_InvalidInputIsEmpty(t *testing.T) {
	props := []Property{property("p1", "o1", "100", true, true)}
	inputs := []BudgetInput{
		{YearBudget: dec("0"), PeriodMonths: 1},
		{YearBudget: dec("-5"), PeriodMonths: 1},
		{YearBudget: dec("100"), PeriodMonths: 0},
		{YearBudget: dec("100"), PeriodMonths: 13},
	}
	for _, in := range inputs {
		if out := (BudgetCalculator{}).Main(props, in); len(out) != 0 {
			t.Fatalf("main: expected empty for %+v", in)
		}
		if out := (BudgetCalculator{}).Conservation(props, in); len(out) != 0 {
			t.Fatalf("conservation: expected empty for %+v", in)
		}
	}
	noConservation := []Property{property("p1", "o1", "100", true, false)}
	if out := (BudgetCalculator{}).Conservation(noConservation, BudgetInput{YearBudget: dec("100"), PeriodMonths: 1}); len(out) != 0 {
		t.Fatalf("expected empty without conservation properties")
	}
}
