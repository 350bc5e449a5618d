package order

import "github.com/plm/aggpay/domain"

// tradeTransitions is the allowed trade_state graph (spec §4.6).
var tradeTransitions = map[domain.TradeState][]domain.TradeState{
	domain.TradeWaitPay: {domain.TradeSuccess, domain.TradeClosed},
	domain.TradeSuccess: {domain.TradeRefund, domain.TradeFinish, domain.TradeFrozen},
	domain.TradeRefund:  {domain.TradeRefund, domain.TradeFinish},
	domain.TradeFrozen:  {domain.TradeSuccess, domain.TradeFinish},
	domain.TradeClosed:  {},
	domain.TradeFinish:  {},
}

// CanTransitionTrade reports whether from -> to is a legal trade_state
// transition. Admin callers may bypass this via the adminOverride flag.
func CanTransitionTrade(from, to domain.TradeState, adminOverride bool) bool {
	if adminOverride {
		return true
	}
	for _, allowed := range tradeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

var settleTransitions = map[domain.SettleState][]domain.SettleState{
	domain.SettlePending:    {domain.SettleProcessing},
	domain.SettleProcessing: {domain.SettleCompleted, domain.SettleFailed},
	domain.SettleFailed:     {domain.SettleProcessing},
	domain.SettleCompleted:  {},
}

// CanTransitionSettle reports whether from -> to is a legal settle_state
// transition (spec §4.6).
func CanTransitionSettle(from, to domain.SettleState) bool {
	for _, allowed := range settleTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

var notifyTransitions = map[domain.NotifyState][]domain.NotifyState{
	domain.NotifyWaiting: {domain.NotifySuccess, domain.NotifyFailed},
	domain.NotifySuccess: {},
	domain.NotifyFailed:  {domain.NotifySuccess, domain.NotifyFailed},
}

// CanTransitionNotify reports whether from -> to is a legal notify_state
// transition (spec §4.6).
func CanTransitionNotify(from, to domain.NotifyState) bool {
	for _, allowed := range notifyTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
