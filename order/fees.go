package order

import (
	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/money"
)

// FeeBreakdown is the result of the fee formula (spec §4.6).
type FeeBreakdown struct {
	Rate    money.Money
	Fee     money.Money
	Cost    money.Money
	Receipt money.Money
	Profit  money.Money
}

// EffectiveRate implements the 4-level rate priority: merchant override
// for (channel, account) beats account.rate (if the account doesn't
// inherit channel config) which beats channel.rate.
func EffectiveRate(merchant *domain.Merchant, ch *domain.PaymentChannel, acc *domain.PaymentChannelAccount) money.Money {
	if merchant != nil {
		if rate, ok := merchant.GetRate(ch.ID, acc.ID); ok {
			return rate
		}
	}
	if !acc.InheritConfig {
		return acc.Rate
	}
	return ch.Rate
}

// ComputeFees implements the fee formula exactly as spec §4.6 / §8
// scenario S2 describe it.
func ComputeFees(total money.Money, merchant *domain.Merchant, ch *domain.PaymentChannel, acc *domain.PaymentChannelAccount) FeeBreakdown {
	rate := EffectiveRate(merchant, ch, acc)

	fee := total.Mul(rate.Decimal()).Add(ch.FixedFee)
	fee = money.Max(fee, ch.MinFee)
	if ch.MaxFee != nil {
		fee = money.Min(fee, *ch.MaxFee)
	}
	fee = money.Min(fee, total)

	cost := total.Mul(ch.Costs.Decimal()).Add(ch.FixedCosts)
	receipt := money.Max(money.Zero(money.ScaleAmount), total.Sub(fee))
	profit := fee.Sub(cost)

	return FeeBreakdown{Rate: rate, Fee: fee, Cost: cost, Receipt: receipt, Profit: profit}
}

// BuyerPayAmount implements spec §3's invariant:
// buyer_pay_amount = total_amount + (merchant.buyer_pay_fee ? fee_amount : 0).
func BuyerPayAmount(total, fee money.Money, buyerPaysFee bool) money.Money {
	if buyerPaysFee {
		return total.Add(fee)
	}
	return total
}
