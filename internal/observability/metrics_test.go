package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.IncrLedgerEntry("earn", "completed")
	a.IncrLedgerEntry("earn", "completed")
	b.IncrLedgerEntry("earn", "completed")

	if got := testutil.ToFloat64(a.ledgerEntries.WithLabelValues("earn", "completed")); got != 2 {
		t.Errorf("a ledger entries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.ledgerEntries.WithLabelValues("earn", "completed")); got != 1 {
		t.Errorf("b ledger entries = %v, want 1", got)
	}
}

func TestRecordSegmentRefresh_CountsChanges(t *testing.T) {
	m := NewMetrics()
	m.RecordSegmentRefresh("ok", 20*time.Millisecond, 3, 1)
	m.RecordSegmentRefresh("ok", 10*time.Millisecond, 0, 2)

	if got := testutil.ToFloat64(m.membershipChanges.WithLabelValues("added")); got != 3 {
		t.Errorf("added = %v", got)
	}
	if got := testutil.ToFloat64(m.membershipChanges.WithLabelValues("removed")); got != 3 {
		t.Errorf("removed = %v", got)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "bogus"} {
		l, err := NewLogger(lvl)
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", lvl, err)
		}
		_ = l.Sync()
	}
}
