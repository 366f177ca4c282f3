package billing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"community-billing/internal/apperrors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func weights(pairs ...any) []Weighted {
	var out []Weighted
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Weighted{SubjectID: pairs[i].(string), Weight: dec(pairs[i+1].(string))})
	}
	return out
}

func TestDistribute_EqualThirds(t *testing.T) {
	shares, err := Distribute(dec("100.00"), weights("A", "1", "B", "1", "C", "1"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if !ShareTotal(shares).Equal(dec("100.00")) {
		t.Fatalf("sum mismatch: %s", ShareTotal(shares))
	}
	// equal weights keep input order, so A takes the remainder cent
	want := []string{"33.34", "33.33", "33.33"}
	for i, s := range shares {
		if !s.Amount.Equal(dec(want[i])) {
			t.Fatalf("share %s: expected %s, got %s", s.SubjectID, want[i], s.Amount)
		}
	}
}

func TestDistribute_RemainderFollowsWeightOrder(t *testing.T) {
	shares, err := Distribute(dec("10.00"), weights("small", "1", "big", "2", "mid", "2", "tiny", "1"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	// per unit 10/6: 1.67, 3.33, 3.33, 1.67 = 10.00 already
	got := map[string]string{}
	for _, s := range shares {
		got[s.SubjectID] = s.Amount.StringFixed(2)
	}
	if got["small"] != "1.67" || got["big"] != "3.33" || got["mid"] != "3.33" || got["tiny"] != "1.67" {
		t.Fatalf("unexpected shares %v", got)
	}

	shares, err = Distribute(dec("1.00"), weights("a", "1", "b", "3", "c", "3"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	// raw: 0.14, 0.43, 0.43 = 1.00
	if !ShareTotal(shares).Equal(dec("1.00")) {
		t.Fatalf("sum mismatch: %s", ShareTotal(shares))
	}

	shares, err = Distribute(dec("0.02"), weights("a", "1", "b", "1", "c", "1"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	// raw 0.01 each overshoots by one cent; the first in order gives it back
	if !shares[0].Amount.IsZero() || !shares[1].Amount.Equal(dec("0.01")) || !shares[2].Amount.Equal(dec("0.01")) {
		t.Fatalf("unexpected shares %v", shares)
	}
}

func TestDistribute_SingleSubjectTakesAll(t *testing.T) {
	shares, err := Distribute(dec("123.45"), weights("only", "0.37"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(shares) != 1 || !shares[0].Amount.Equal(dec("123.45")) {
		t.Fatalf("unexpected shares %v", shares)
	}
}

func TestDistribute_ZeroWeights(t *testing.T) {
	shares, err := Distribute(dec("50"), weights("a", "0", "b", "0"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	for _, s := range shares {
		if !s.Amount.IsZero() {
			t.Fatalf("expected zero share, got %s for %s", s.Amount, s.SubjectID)
		}
	}

	shares, err = Distribute(dec("10.01"), weights("z", "0", "a", "1", "b", "1"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if !shares[0].Amount.IsZero() {
		t.Fatalf("zero-weight subject received %s", shares[0].Amount)
	}
	if !ShareTotal(shares).Equal(dec("10.01")) {
		t.Fatalf("sum mismatch: %s", ShareTotal(shares))
	}
}

func TestDistribute_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		total   string
		weights []Weighted
	}{
		{name: "negative total", total: "-1", weights: weights("a", "1")},
		{name: "negative weight", total: "1", weights: weights("a", "-1")},
		{name: "duplicate subject", total: "1", weights: weights("a", "1", "a", "2")},
		{name: "empty subject", total: "1", weights: weights("", "1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shares, err := Distribute(dec(tc.total), tc.weights)
			if !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if shares != nil {
				t.Fatalf("expected no partial result")
			}
		})
	}
}

func TestDistribute_ConservesTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		total := decimal.New(rng.Int63n(10_000_000), -2)
		n := 1 + rng.Intn(12)
		ws := make([]Weighted, n)
		for j := range ws {
			var w decimal.Decimal
			switch rng.Intn(4) {
			case 0:
				w = decimal.Zero
			case 1:
				w = decimal.NewFromInt(1)
			default:
				w = decimal.New(rng.Int63n(100_000), -3)
			}
			ws[j] = Weighted{SubjectID: fmt.Sprintf("s%d", j), Weight: w}
		}
		shares, err := Distribute(total, ws)
		if err != nil {
			t.Fatalf("case %d: distribute: %v", i, err)
		}
		sum := decimal.Zero
		allZero := true
		for _, w := range ws {
			sum = sum.Add(w.Weight)
			if !w.Weight.IsZero() {
				allZero = false
			}
		}
		got := ShareTotal(shares)
		if allZero {
			if !got.IsZero() {
				t.Fatalf("case %d: zero weights allocated %s", i, got)
			}
			continue
		}
		if !got.Equal(total) {
			t.Fatalf("case %d: total %s, allocated %s", i, total, got)
		}
		for _, s := range shares {
			if s.Amount.IsNegative() {
				t.Fatalf("case %d: negative share %s for %s", i, s.Amount, s.SubjectID)
			}
			if s.Weight.IsZero() && !s.Amount.IsZero() {
				t.Fatalf("case %d: zero-weight subject %s received %s", i, s.SubjectID, s.Amount)
			}
		}
	}
}

func TestDistribute_EqualWeightSpreadAtMostOneCent(t *testing.T) {
	for _, total := range []string{"100.00", "0.05", "999.99", "7.00"} {
		shares, err := Distribute(dec(total), weights("a", "2", "b", "2", "c", "2", "d", "2", "e", "2", "f", "2", "g", "2"))
		if err != nil {
			t.Fatalf("distribute %s: %v", total, err)
		}
		minAmt, maxAmt := shares[0].Amount, shares[0].Amount
		for _, s := range shares {
			if s.Amount.LessThan(minAmt) {
				minAmt = s.Amount
			}
			if s.Amount.GreaterThan(maxAmt) {
				maxAmt = s.Amount
			}
		}
		if maxAmt.Sub(minAmt).GreaterThan(dec("0.01")) {
			t.Fatalf("total %s: spread %s exceeds one cent", total, maxAmt.Sub(minAmt))
		}
	}
}

func TestDistribute_SubCentTotalRoundsFirst(t *testing.T) {
	shares, err := Distribute(dec("10.005"), weights("A", "1", "B", "1"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if !ShareTotal(shares).Equal(dec("10.01")) {
		t.Fatalf("expected shares to sum to the cent-rounded total 10.01, got %s", ShareTotal(shares))
	}
	if !shares[0].Amount.Equal(dec("5.01")) || !shares[1].Amount.Equal(dec("5.00")) {
		t.Fatalf("unexpected shares %+v", shares)
	}
}
