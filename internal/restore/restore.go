// Package restore recovers deleted BigQuery tables from time-travel
// snapshots.
package restore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dbtwiz/dbtwiz/internal/bq"
	"github.com/dbtwiz/dbtwiz/internal/logger"
)

// timeTravelWindow is how far back BigQuery time travel reaches.
const timeTravelWindow = 7 * 24 * time.Hour

// ErrInvalidTimestamp is returned for timestamps in none of the supported
// formats.
var ErrInvalidTimestamp = errors.New(
	"invalid timestamp; supported formats: epoch milliseconds, ISO 8601 (YYYY-MM-DDTHH:MM:SS) or YYYY-MM-DD HH:MM:SS")

// timestampLayouts are tried in order when the timestamp is not epoch
// milliseconds.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05Z",
	"2006-01-02",
}

// ParseTimestamp parses a snapshot timestamp to epoch milliseconds. Plain
// digit strings are taken as epoch milliseconds directly; otherwise common
// date and datetime layouts are tried in local time.
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}

	if isDigits(s) {
		var ms int64
		if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
		return ms, nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidateWindow rejects snapshots outside BigQuery's time travel window.
func ValidateWindow(snapshotMs int64, now time.Time) error {
	age := now.Sub(time.UnixMilli(snapshotMs))
	if age > timeTravelWindow {
		return fmt.Errorf("snapshot timestamp is %.1f days old; BigQuery time travel is limited to 7 days",
			age.Hours()/24)
	}
	return nil
}

// Options describes one restore run.
type Options struct {
	// Table is the deleted table to restore.
	Table bq.TableID
	// Timestamp selects the snapshot, see ParseTimestamp.
	Timestamp string
	// Target is where the recovered data goes. Zero restores in place.
	Target bq.TableID
}

// Service runs restores with the pre-flight checks around them.
type Service struct {
	Engine *bq.Engine
	Log    logger.Logger

	now func() time.Time
}

// NewService creates a restore service.
func NewService(engine *bq.Engine, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{Engine: engine, Log: log, now: time.Now}
}

// Restore recovers a deleted table. The source must actually be deleted and
// the target (when given) must not exist yet; permission errors during these
// checks are reported but don't block the attempt, since the restore itself
// will fail with a clearer message.
func (s *Service) Restore(ctx context.Context, opts Options) (bq.TableID, error) {
	snapshotMs, err := ParseTimestamp(opts.Timestamp)
	if err != nil {
		return bq.TableID{}, err
	}

	exists, err := s.Engine.TableExists(ctx, opts.Table)
	switch {
	case bq.IsForbidden(err):
		s.Log.Warn("unable to verify table status", logger.Err(err))
	case err != nil:
		return bq.TableID{}, err
	case exists:
		return bq.TableID{}, fmt.Errorf(
			"table %s still exists in BigQuery; this command is for restoring deleted tables", opts.Table)
	}

	if !opts.Target.IsZero() {
		exists, err := s.Engine.TableExists(ctx, opts.Target)
		switch {
		case bq.IsForbidden(err):
			s.Log.Warn("unable to verify recovery target status", logger.Err(err))
		case err != nil:
			return bq.TableID{}, err
		case exists:
			return bq.TableID{}, fmt.Errorf(
				"table %s already exists; choose a different location for the recovered table", opts.Target)
		}
	}

	if err := ValidateWindow(snapshotMs, s.now()); err != nil {
		return bq.TableID{}, err
	}

	restored, err := s.Engine.RestoreTable(ctx, opts.Table, snapshotMs, opts.Target)
	if err != nil {
		if bq.IsNotFound(err) {
			return bq.TableID{}, fmt.Errorf(
				"table snapshot not found; the table may not have existed at the given time or the snapshot is outside the 7 day time travel window: %w", err)
		}
		return bq.TableID{}, err
	}
	s.Log.Info("table restored", logger.String("table", restored.String()))
	return restored, nil
}
