package domain

import (
	"errors"
	"testing"
	"time"
)

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("status %q should be terminal", s)
		}
	}

	open := []OrderStatus{OrderStatusCreated, OrderStatusSubmitted, OrderStatusAcknowledged, OrderStatusPartiallyFilled}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("status %q should not be terminal", s)
		}
	}
}

func TestOrderSideOpposite(t *testing.T) {
	if OrderSideBuy.Opposite() != OrderSideSell {
		t.Error("opposite of buy should be sell")
	}
	if OrderSideSell.Opposite() != OrderSideBuy {
		t.Error("opposite of sell should be buy")
	}
}

func TestOrderRemainingVolume(t *testing.T) {
	o := Order{Volume: 1.0, FilledVolume: 0.4}
	if got := o.RemainingVolume(); got != 0.6 {
		t.Errorf("RemainingVolume = %v, want 0.6", got)
	}

	// Overfill must not go negative.
	o.FilledVolume = 1.2
	if got := o.RemainingVolume(); got != 0 {
		t.Errorf("RemainingVolume = %v, want 0", got)
	}
}

func TestPositionDirectionHelpers(t *testing.T) {
	long := Position{Symbol: "EURUSD", NetVolume: 0.5}
	if !long.IsLong() || long.IsShort() || long.IsFlat() {
		t.Error("position with positive volume should be long")
	}

	short := Position{Symbol: "EURUSD", NetVolume: -0.7}
	if !short.IsShort() || short.IsLong() || short.IsFlat() {
		t.Error("position with negative volume should be short")
	}

	flat := Position{Symbol: "EURUSD"}
	if !flat.IsFlat() || flat.IsLong() || flat.IsShort() {
		t.Error("zero-volume position should be flat")
	}
}

func TestTimeframeDuration(t *testing.T) {
	cases := []struct {
		tf   Timeframe
		want time.Duration
	}{
		{TimeframeM1, time.Minute},
		{TimeframeM5, 5 * time.Minute},
		{TimeframeM15, 15 * time.Minute},
		{TimeframeH1, time.Hour},
		{TimeframeD1, 24 * time.Hour},
		{Timeframe("bogus"), 24 * time.Hour},
	}
	for _, c := range cases {
		if got := c.tf.Duration(); got != c.want {
			t.Errorf("Duration(%q) = %v, want %v", c.tf, got, c.want)
		}
	}
}

func TestErrorTaxonomyUnwrapping(t *testing.T) {
	connErr := &ConnectionError{Op: "SubmitOrder", Err: errors.New("dial tcp: refused")}
	if !errors.Is(connErr, ErrConnection) {
		t.Error("ConnectionError should match ErrConnection")
	}

	rejErr := &RejectionError{IntentID: "abc", Reason: "insufficient margin"}
	if !errors.Is(rejErr, ErrRejection) {
		t.Error("RejectionError should match ErrRejection")
	}

	gapErr := &DataGapError{Symbol: "EURUSD", From: time.Now(), To: time.Now()}
	if !errors.Is(gapErr, ErrDataGap) {
		t.Error("DataGapError should match ErrDataGap")
	}

	// Connection errors must not be mistaken for rejections.
	if errors.Is(connErr, ErrRejection) {
		t.Error("ConnectionError should not match ErrRejection")
	}
}
