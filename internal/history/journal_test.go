package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/isy-shadow/internal/infrastructure/config"
	"github.com/nerrad567/isy-shadow/internal/shadow"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()

	cfg := config.HistoryConfig{
		Enabled:       true,
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionDays: 30,
	}
	j, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func statusChange(addr string, value string, at time.Time) shadow.StatusChange {
	return shadow.StatusChange{
		Address: shadow.Address(addr),
		Kind:    shadow.KindNode,
		Key:     shadow.StatusKey,
		New:     shadow.Property{Value: value, Formatted: value, UOM: "100"},
		At:      at,
	}
}

func TestOpen_Disabled(t *testing.T) {
	if _, err := Open(config.HistoryConfig{Enabled: false}, nil); !errors.Is(err, ErrDisabled) {
		t.Errorf("Open() error = %v, want ErrDisabled", err)
	}
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	base := time.Date(2023, 8, 15, 7, 30, 0, 0, time.UTC)
	for i, v := range []string{"0", "128", "255"} {
		change := statusChange("16 2E 45 1", v, base.Add(time.Duration(i)*time.Minute))
		if err := j.Record(ctx, change); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := j.Recent(ctx, "16 2E 45 1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	// Newest first.
	if entries[0].Value != "255" || entries[2].Value != "0" {
		t.Errorf("order = [%s %s %s], want newest first", entries[0].Value, entries[1].Value, entries[2].Value)
	}
	if entries[0].Address != "16 2E 45 1" || entries[0].Kind != "node" || entries[0].Key != shadow.StatusKey {
		t.Errorf("entry identity = %+v", entries[0])
	}
	if entries[0].UOM != "100" {
		t.Errorf("UOM = %q, want 100", entries[0].UOM)
	}
	if !entries[0].RecordedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("RecordedAt = %v, want %v", entries[0].RecordedAt, base.Add(2*time.Minute))
	}
}

func TestJournal_RecentLimit(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		if err := j.Record(ctx, statusChange("N1", "1", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := j.Recent(ctx, "N1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries with limit 2, want 2", len(entries))
	}
}

func TestJournal_RecentOtherAddressExcluded(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	if err := j.Record(ctx, statusChange("N1", "1", time.Now())); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := j.Recent(ctx, "N2", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries for unrecorded address, want 0", len(entries))
	}
}

func TestJournal_UOMSentinelStoredEmpty(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	change := statusChange("N1", "55", time.Now())
	change.New.UOM = shadow.UOMNotSet
	if err := j.Record(ctx, change); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := j.Recent(ctx, "N1", 1)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if entries[0].UOM != "" {
		t.Errorf("UOM = %q for never-reported unit, want empty", entries[0].UOM)
	}
}

func TestJournal_Prune(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	old := statusChange("N1", "0", time.Now().UTC().Add(-100*24*time.Hour))
	fresh := statusChange("N1", "255", time.Now().UTC())
	if err := j.Record(ctx, old); err != nil {
		t.Fatalf("Record(old) error = %v", err)
	}
	if err := j.Record(ctx, fresh); err != nil {
		t.Fatalf("Record(fresh) error = %v", err)
	}

	removed, err := j.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d rows, want 1", removed)
	}

	entries, err := j.Recent(ctx, "N1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Value != "255" {
		t.Errorf("entries after prune = %+v, want only the fresh one", entries)
	}
}

func TestJournal_PruneRejectsNonPositive(t *testing.T) {
	j := testJournal(t)

	if _, err := j.Prune(context.Background(), 0); err == nil {
		t.Error("Prune(0) = nil error, want rejection")
	}
}

func TestJournal_HealthCheck(t *testing.T) {
	j := testJournal(t)

	if err := j.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
