package restore

import (
	"context"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/dbtwiz/dbtwiz/internal/bq"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1700000000000", 1700000000000, false},
		{" 1700000000000 ", 1700000000000, false},
		{"2024-01-15T10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local).UnixMilli(), false},
		{"2024-01-15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local).UnixMilli(), false},
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.Local).UnixMilli(), false},
		{"not-a-timestamp", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseTimestamp(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseTimestamp(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateWindow(t *testing.T) {
	now := time.Now()

	if err := ValidateWindow(now.Add(-time.Hour).UnixMilli(), now); err != nil {
		t.Errorf("recent snapshot rejected: %v", err)
	}
	if err := ValidateWindow(now.Add(-8*24*time.Hour).UnixMilli(), now); err == nil {
		t.Error("snapshot older than 7 days must be rejected")
	}
}

// restoreAPI fakes the subset of bq.API the restore flow touches.
type restoreAPI struct {
	bq.API
	existing map[bq.TableID]bool
	copies   [][2]bq.TableID
}

func (f *restoreAPI) GetTable(ctx context.Context, id bq.TableID) (*bigquery.TableMetadata, error) {
	if f.existing[id] {
		return &bigquery.TableMetadata{Type: bigquery.RegularTable}, nil
	}
	return nil, &googleapi.Error{Code: 404}
}

func (f *restoreAPI) CopyTable(ctx context.Context, src, dst bq.TableID) error {
	f.copies = append(f.copies, [2]bq.TableID{src, dst})
	return nil
}

func newService(existing ...bq.TableID) (*Service, *restoreAPI) {
	fake := &restoreAPI{existing: make(map[bq.TableID]bool)}
	for _, id := range existing {
		fake.existing[id] = true
	}
	return NewService(bq.NewEngine(fake, nil), nil), fake
}

var (
	deletedID = bq.TableID{Project: "p", Dataset: "d", Table: "events"}
	targetID  = bq.TableID{Project: "p", Dataset: "d", Table: "events_recovered"}
)

func TestRestore(t *testing.T) {
	svc, fake := newService()
	ts := time.Now().Add(-time.Hour).Truncate(time.Second).UnixMilli()

	restored, err := svc.Restore(context.Background(), Options{
		Table:     deletedID,
		Timestamp: timestampString(ts),
		Target:    targetID,
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored != targetID {
		t.Errorf("restored = %v, want %v", restored, targetID)
	}
	if len(fake.copies) != 1 {
		t.Fatalf("expected 1 copy, got %d", len(fake.copies))
	}
	wantSrc := deletedID.Snapshot(ts)
	if fake.copies[0][0] != wantSrc {
		t.Errorf("copy source = %v, want %v", fake.copies[0][0], wantSrc)
	}
}

func TestRestoreRejectsExistingTable(t *testing.T) {
	svc, fake := newService(deletedID)

	_, err := svc.Restore(context.Background(), Options{
		Table:     deletedID,
		Timestamp: timestampString(time.Now().UnixMilli()),
	})
	if err == nil || !strings.Contains(err.Error(), "still exists") {
		t.Errorf("expected still-exists error, got %v", err)
	}
	if len(fake.copies) != 0 {
		t.Error("no copy may run when the table still exists")
	}
}

func TestRestoreRejectsExistingTarget(t *testing.T) {
	svc, _ := newService(targetID)

	_, err := svc.Restore(context.Background(), Options{
		Table:     deletedID,
		Timestamp: timestampString(time.Now().UnixMilli()),
		Target:    targetID,
	})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected already-exists error, got %v", err)
	}
}

func TestRestoreRejectsOldSnapshot(t *testing.T) {
	svc, fake := newService()

	_, err := svc.Restore(context.Background(), Options{
		Table:     deletedID,
		Timestamp: timestampString(time.Now().Add(-10 * 24 * time.Hour).UnixMilli()),
	})
	if err == nil {
		t.Error("expected window validation error")
	}
	if len(fake.copies) != 0 {
		t.Error("no copy may run for an out-of-window snapshot")
	}
}

func timestampString(ms int64) string {
	return time.UnixMilli(ms).In(time.Local).Format("2006-01-02T15:04:05")
}
