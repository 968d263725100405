package ledger

import (
	"errors"
	"testing"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/qbtc-network/qbtc-custodian/models"
)

var (
	user = common.HexToAddress("0x0000000000000000000000000000000000000D01")
)

func TestHoldingsBalance(t *testing.T) {
	x := NewHoldings()

	assert.Equal(t, math.ZeroInt(), x.Balance(user))

	assert.Nil(t, x.Credit(user, math.NewInt(500)))
	assert.Equal(t, math.NewInt(500), x.Balance(user))
}

func TestHoldingsCredit(t *testing.T) {
	t.Run("Accumulates", func(t *testing.T) {
		x := NewHoldings()

		assert.Nil(t, x.Credit(user, math.NewInt(300)))
		assert.Nil(t, x.Credit(user, math.NewInt(200)))

		assert.Equal(t, math.NewInt(500), x.Balance(user))
	})

	t.Run("Zero User", func(t *testing.T) {
		x := NewHoldings()

		err := x.Credit(common.Address{}, math.NewInt(1))
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("Non Positive Amount", func(t *testing.T) {
		x := NewHoldings()

		err := x.Credit(user, math.ZeroInt())
		assert.True(t, errors.Is(err, models.ErrValidation))
	})
}

func TestHoldingsDebit(t *testing.T) {
	t.Run("Within Balance", func(t *testing.T) {
		x := NewHoldings()
		assert.Nil(t, x.Credit(user, math.NewInt(500)))

		assert.Nil(t, x.Debit(user, math.NewInt(500)))
		assert.True(t, math.ZeroInt().Equal(x.Balance(user)))
	})

	t.Run("Overdraw Applies Nothing", func(t *testing.T) {
		x := NewHoldings()
		assert.Nil(t, x.Credit(user, math.NewInt(100)))

		err := x.Debit(user, math.NewInt(200))

		assert.True(t, errors.Is(err, models.ErrInvariant))
		assert.Equal(t, math.NewInt(100), x.Balance(user))
	})
}
