package ledger

import (
	"math"
	"testing"
	"time"

	"meridian/internal/domain"
)

func eurusdSymbols() map[string]domain.SymbolInfo {
	return map[string]domain.SymbolInfo{
		"EURUSD": {Symbol: "EURUSD", PipSize: 0.0001, PipValue: 10, ContractSize: 100000, LotStep: 0.01},
	}
}

func fill(side domain.OrderSide, volume, price float64, sec int) domain.Fill {
	return domain.Fill{
		IntentID:  "intent",
		Symbol:    "EURUSD",
		Side:      side,
		Volume:    volume,
		Price:     price,
		Timestamp: time.Date(2024, 3, 1, 0, 0, sec, 0, time.UTC),
	}
}

func TestApplyOpensAndAverages(t *testing.T) {
	l := New(10000, eurusdSymbols(), nil)
	defer l.Close()

	pos := l.Apply(fill(domain.OrderSideBuy, 0.5, 1.1000, 1))
	if pos.NetVolume != 0.5 {
		t.Errorf("NetVolume = %v, want 0.5", pos.NetVolume)
	}
	if !closeTo(pos.AvgEntryPrice, 1.1000) {
		t.Errorf("AvgEntryPrice = %v, want 1.1", pos.AvgEntryPrice)
	}

	// Adding at a higher price moves the weighted entry.
	pos = l.Apply(fill(domain.OrderSideBuy, 0.5, 1.1100, 2))
	if pos.NetVolume != 1.0 {
		t.Errorf("NetVolume = %v, want 1.0", pos.NetVolume)
	}
	if !closeTo(pos.AvgEntryPrice, 1.1050) {
		t.Errorf("AvgEntryPrice = %v, want 1.105", pos.AvgEntryPrice)
	}
}

func TestApplyFlipRealizesAtFlipPrice(t *testing.T) {
	l := New(10000, eurusdSymbols(), nil)
	defer l.Close()

	// 0.5 lots long at 1.1000, then 1.2 lots short at 1.1050:
	// flips to 0.7 short, realizing PnL on the closed 0.5 at the flip price.
	l.Apply(fill(domain.OrderSideBuy, 0.5, 1.1000, 1))
	pos := l.Apply(fill(domain.OrderSideSell, 1.2, 1.1050, 2))

	if !closeTo(pos.NetVolume, -0.7) {
		t.Errorf("NetVolume = %v, want -0.7", pos.NetVolume)
	}
	if !pos.IsShort() {
		t.Error("position should be short after the flip")
	}
	// Realized: (1.1050 - 1.1000) * 0.5 * 100000 = 250.
	if !closeTo(pos.RealizedPnL, 250) {
		t.Errorf("RealizedPnL = %v, want 250", pos.RealizedPnL)
	}
	// The new short is carried at the flip price.
	if !closeTo(pos.AvgEntryPrice, 1.1050) {
		t.Errorf("AvgEntryPrice = %v, want 1.105", pos.AvgEntryPrice)
	}

	snap := l.Snapshot()
	if !closeTo(snap.Balance, 10250) {
		t.Errorf("Balance = %v, want 10250", snap.Balance)
	}
}

func TestApplyPartialCloseKeepsEntry(t *testing.T) {
	l := New(10000, eurusdSymbols(), nil)
	defer l.Close()

	l.Apply(fill(domain.OrderSideBuy, 1.0, 1.1000, 1))
	pos := l.Apply(fill(domain.OrderSideSell, 0.4, 1.1020, 2))

	if !closeTo(pos.NetVolume, 0.6) {
		t.Errorf("NetVolume = %v, want 0.6", pos.NetVolume)
	}
	if !closeTo(pos.AvgEntryPrice, 1.1000) {
		t.Errorf("AvgEntryPrice = %v, want unchanged 1.1", pos.AvgEntryPrice)
	}
	// Realized: (1.1020 - 1.1000) * 0.4 * 100000 = 80.
	if !closeTo(pos.RealizedPnL, 80) {
		t.Errorf("RealizedPnL = %v, want 80", pos.RealizedPnL)
	}
}

func TestApplyFullCloseFlattens(t *testing.T) {
	l := New(10000, eurusdSymbols(), nil)
	defer l.Close()

	l.Apply(fill(domain.OrderSideSell, 0.5, 1.2000, 1))
	pos := l.Apply(fill(domain.OrderSideBuy, 0.5, 1.1900, 2))

	if !pos.IsFlat() {
		t.Errorf("position should be flat, NetVolume = %v", pos.NetVolume)
	}
	// Short from 1.2000 covered at 1.1900: (1.19 - 1.20) * 0.5 * 100000 * -1 = 500.
	if !closeTo(pos.RealizedPnL, 500) {
		t.Errorf("RealizedPnL = %v, want 500", pos.RealizedPnL)
	}
	if len(l.Positions()) != 0 {
		t.Error("flat positions should not be listed")
	}
}

// Replaying the same fill sequence through a cold ledger must reproduce the
// same net position and realized PnL as the original incremental run.
func TestReplayInvariance(t *testing.T) {
	fills := []domain.Fill{
		fill(domain.OrderSideBuy, 0.5, 1.1000, 1),
		fill(domain.OrderSideBuy, 0.3, 1.1040, 2),
		fill(domain.OrderSideSell, 1.0, 1.1100, 3),
		fill(domain.OrderSideBuy, 0.1, 1.1080, 4),
	}

	run := func() (domain.Position, domain.AccountSnapshot) {
		l := New(10000, eurusdSymbols(), nil)
		defer l.Close()
		var last domain.Position
		for _, f := range fills {
			last = l.Apply(f)
		}
		return last, l.Snapshot()
	}

	posA, snapA := run()
	posB, snapB := run()

	if posA != posB {
		t.Errorf("replay diverged:\n  %+v\n  %+v", posA, posB)
	}
	if snapA != snapB {
		t.Errorf("snapshots diverged:\n  %+v\n  %+v", snapA, snapB)
	}
}

func TestMarkUpdatesUnrealizedAndEquity(t *testing.T) {
	l := New(10000, eurusdSymbols(), nil)
	defer l.Close()

	l.Apply(fill(domain.OrderSideBuy, 1.0, 1.1000, 1))
	l.Mark("EURUSD", 1.1030, time.Date(2024, 3, 1, 0, 1, 0, 0, time.UTC))

	pos, ok := l.Position("EURUSD")
	if !ok {
		t.Fatal("position should exist")
	}
	// (1.1030 - 1.1000) * 1.0 * 100000 = 300.
	if !closeTo(pos.UnrealizedPnL, 300) {
		t.Errorf("UnrealizedPnL = %v, want 300", pos.UnrealizedPnL)
	}

	snap := l.Snapshot()
	if !closeTo(snap.Equity, 10300) {
		t.Errorf("Equity = %v, want 10300", snap.Equity)
	}
	if !closeTo(snap.Balance, 10000) {
		t.Errorf("Balance = %v, want 10000 (nothing realized)", snap.Balance)
	}
	if snap.MarginUsed <= 0 {
		t.Error("MarginUsed should be positive with an open position")
	}
}

func TestAdoptInstallsBrokerPosition(t *testing.T) {
	l := New(10000, eurusdSymbols(), nil)
	defer l.Close()

	l.Adopt(domain.Position{Symbol: "EURUSD", NetVolume: 0.3, AvgEntryPrice: 1.0950})

	pos, ok := l.Position("EURUSD")
	if !ok || !closeTo(pos.NetVolume, 0.3) {
		t.Fatalf("adopted position missing or wrong: %+v (ok=%v)", pos, ok)
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
