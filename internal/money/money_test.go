package money

import "testing"

func TestCommissionTruncates(t *testing.T) {
	// 1001 at 10% is 100.1, which must floor to 100.
	if got := Commission(1001, 10); got != 100 {
		t.Errorf("Commission(1001, 10) = %d, want 100", got)
	}
	if got := Commission(999, 33); got != 329 {
		t.Errorf("Commission(999, 33) = %d, want 329", got)
	}
	if got := Commission(1000, 0); got != 0 {
		t.Errorf("Commission(1000, 0) = %d, want 0", got)
	}
	if got := Commission(0, 10); got != 0 {
		t.Errorf("Commission(0, 10) = %d, want 0", got)
	}
}

func TestCommissionNeverExceedsRoundUp(t *testing.T) {
	for subtotal := Cents(1); subtotal < 5000; subtotal++ {
		for _, rate := range []int{1, 7, 10, 15, 33} {
			exact := int64(subtotal) * int64(rate)
			got := int64(Commission(subtotal, rate)) * 100
			if got > exact {
				t.Fatalf("Commission(%d, %d) rounded up", subtotal, rate)
			}
			if exact-got >= 100 {
				t.Fatalf("Commission(%d, %d) truncated more than a cent", subtotal, rate)
			}
		}
	}
}

func TestWholeShillings(t *testing.T) {
	if !FromShillings(20).IsWholeShillings() {
		t.Error("FromShillings(20) should be whole")
	}
	if Cents(2050).IsWholeShillings() {
		t.Error("2050 cents should not be whole")
	}
}

func TestParseAndString(t *testing.T) {
	cases := []struct {
		in   string
		want Cents
	}{
		{"0", 0},
		{"1234.56", 123456},
		{"1234.5", 123450},
		{"1234", 123400},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	if _, err := Parse("-5"); err == nil {
		t.Error("Parse(-5) should reject negative amounts")
	}
	if _, err := Parse("1.234"); err == nil {
		t.Error("Parse(1.234) should reject sub-cent precision")
	}
	if got := Cents(123456).String(); got != "1234.56" {
		t.Errorf("String() = %q, want 1234.56", got)
	}
}
