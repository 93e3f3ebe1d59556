package trading

import "deriv_trading/internal/models"

// Notifier is the narrow observer surface chat and dashboard layers
// implement. New integrations should prefer the bus; these callbacks
// exist for the low-latency hot paths only.
type Notifier interface {
	OnTradeOpened(models.Contract)
	OnTradeClosed(models.Contract, models.SessionStats)
	OnSessionComplete(models.SessionStats, string)
	OnProgress(string)
	OnError(error)
}

// NopNotifier discards every callback.
type NopNotifier struct{}

func (NopNotifier) OnTradeOpened(models.Contract)                   {}
func (NopNotifier) OnTradeClosed(models.Contract, models.SessionStats) {}
func (NopNotifier) OnSessionComplete(models.SessionStats, string)   {}
func (NopNotifier) OnProgress(string)                               {}
func (NopNotifier) OnError(error)                                   {}
