package bus

import (
	"testing"
	"time"

	"deriv_trading/internal/models"

	"github.com/shopspring/decimal"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(ChannelTick)

	tick := models.Tick{Symbol: "R_100", Price: 1234.56, Timestamp: time.Now()}
	b.Publish(ChannelTick, "", tick)

	select {
	case ev := <-sub.Events():
		got, ok := ev.Data.(models.Tick)
		if !ok || got.Symbol != "R_100" {
			t.Fatalf("Unexpected event payload: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("No event delivered")
	}
}

func TestDropOldestUnderPressure(t *testing.T) {
	b := New()
	sub := b.Subscribe(ChannelTick)

	// Overfill the queue without draining.
	for i := 0; i < QueueCapacity+10; i++ {
		b.Publish(ChannelTick, "", models.Tick{Symbol: "R_100", Price: float64(i + 1)})
	}

	// First event remaining must be the 11th published (oldest dropped).
	ev := <-sub.Events()
	tick := ev.Data.(models.Tick)
	if tick.Price != 11 {
		t.Errorf("Expected oldest-dropped semantics (first=11), got price %v", tick.Price)
	}

	// Drain the rest; the newest must have survived.
	var last models.Tick
	for {
		select {
		case ev := <-sub.Events():
			last = ev.Data.(models.Tick)
			continue
		default:
		}
		break
	}
	if last.Price != float64(QueueCapacity+10) {
		t.Errorf("Newest event lost: got %v", last.Price)
	}
}

func TestClosedSubscriberIsEvicted(t *testing.T) {
	b := New()
	sub := b.Subscribe(ChannelStatus)
	sub.Close()

	// Publishing must not panic or block; the sub is silently evicted.
	b.Publish(ChannelStatus, "", models.Status{IsConnected: true})

	b.mu.RLock()
	n := len(b.subs[ChannelStatus])
	b.mu.RUnlock()
	if n != 0 {
		t.Errorf("Expected closed subscriber evicted, %d remain", n)
	}
}

func TestSnapshotTracksPositions(t *testing.T) {
	b := New()

	c := models.Contract{ContractID: 42, Symbol: "R_50", Stake: decimal.NewFromInt(1)}
	b.Publish(ChannelPosition, PositionOpen, c)

	snap := b.GetSnapshot()
	if _, ok := snap.OpenPositions[42]; !ok {
		t.Fatal("Open position missing from snapshot")
	}

	b.Publish(ChannelPosition, PositionClose, c)
	if b.OpenPositionCount() != 0 {
		t.Error("Position still open after close event")
	}

	b.Publish(ChannelTrade, "", c)
	snap = b.GetSnapshot()
	if len(snap.TradeHistory) != 1 {
		t.Errorf("Expected 1 settlement in history, got %d", len(snap.TradeHistory))
	}
}

func TestSnapshotResetClearsPositions(t *testing.T) {
	b := New()
	b.Publish(ChannelPosition, PositionOpen, models.Contract{ContractID: 7})
	b.Publish(ChannelPosition, PositionReset, map[string]string{"reason": "stop"})
	if b.OpenPositionCount() != 0 {
		t.Error("positions_reset did not clear the snapshot")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New()
	b.Publish(ChannelTick, "", models.Tick{Symbol: "R_100", Price: 1})
	snap := b.GetSnapshot()
	snap.LastTicks["R_100"] = models.Tick{Symbol: "R_100", Price: 999}

	if b.GetSnapshot().LastTicks["R_100"].Price != 1 {
		t.Error("Snapshot mutation leaked back into the bus")
	}
}

func TestTradeHistoryBounded(t *testing.T) {
	b := New()
	for i := 0; i < historyKeep+25; i++ {
		b.Publish(ChannelTrade, "", models.Contract{ContractID: int64(i)})
	}
	snap := b.GetSnapshot()
	if len(snap.TradeHistory) != historyKeep {
		t.Errorf("Expected history bounded at %d, got %d", historyKeep, len(snap.TradeHistory))
	}
	if snap.TradeHistory[0].ContractID != 25 {
		t.Errorf("Expected oldest retained settlement 25, got %d", snap.TradeHistory[0].ContractID)
	}
}
