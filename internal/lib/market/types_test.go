package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContractDeadlines(t *testing.T) {
	testCases := []struct {
		name         string
		start        uint64
		setup        uint64
		confirmation uint64
		setupDue     uint64
		confirmDue   uint64
	}{
		{"typical", 100, 50, 60, 150, 210},
		{"no grace", 100, 0, 0, 100, 100},
		{"setup overflows", math.MaxUint64 - 10, 20, 5, math.MaxUint64, math.MaxUint64},
		{"confirmation overflows", math.MaxUint64 - 30, 20, 20, math.MaxUint64 - 10, math.MaxUint64},
		{"huge terms", 1_000, math.MaxUint64, math.MaxUint64, math.MaxUint64, math.MaxUint64},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			contract := &DelegationContract{
				RoundStart: tc.start,
				Man:        ManTerms{SetupRounds: tc.setup, ConfirmationRounds: tc.confirmation},
			}
			assert.Equal(t, tc.setupDue, contract.SetupDeadline())
			assert.Equal(t, tc.confirmDue, contract.ConfirmationDeadline())
			assert.LessOrEqual(t, contract.SetupDeadline(), contract.ConfirmationDeadline())
		})
	}
}
