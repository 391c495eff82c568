package indemnity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/indemnity-engine/generic"
)

func TestAmountInWords(t *testing.T) {
	tests := []struct {
		amount generic.Amount
		want   string
	}{
		{generic.NewAmountFromInt(4_500_000, generic.XOF), "four million five hundred thousand XOF"},
		{generic.NewAmountFromInt(300_000, generic.XOF), "three hundred thousand XOF"},
		{mustAmount(t, "12.50", "EUR"), "twelve EUR and 50/100"},
		{mustAmount(t, "12", "EUR"), "twelve EUR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, amountInWords(tt.amount), tt.amount.String())
	}
}

func mustAmount(t *testing.T, s string, c generic.Currency) generic.Amount {
	t.Helper()
	a, err := generic.ParseAmount(s, c)
	if err != nil {
		t.Fatal(err)
	}
	return a
}
