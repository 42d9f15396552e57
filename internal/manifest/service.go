package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dbtwiz/dbtwiz/internal/config"
	"github.com/dbtwiz/dbtwiz/internal/logger"
)

// prodManifestMaxAge is how old the downloaded production manifest may be
// before it is refreshed.
const prodManifestMaxAge = 2 * time.Hour

// missingManifestAge is reported for a manifest file that does not exist,
// so any freshness threshold treats it as stale.
const missingManifestAge = 999 * time.Hour

// Which selects the manifests an update operation refreshes.
type Which string

const (
	UpdateAll  Which = "all"
	UpdateDev  Which = "dev"
	UpdateProd Which = "prod"
)

// Service refreshes the local and production manifests.
type Service struct {
	Cfg *config.ProjectConfig
	Log logger.Logger

	// Rebuild reparses the project to regenerate the local manifest. Wired
	// to the dbt runner by the command layer.
	Rebuild func() error

	// EnsureAuth validates application-default credentials before any GCS
	// access. Wired by the command layer.
	EnsureAuth func() error
}

// UpdateManifests rebuilds the local manifest and/or downloads the latest
// production manifest.
func (s *Service) UpdateManifests(ctx context.Context, which Which, force bool) error {
	if which == UpdateAll || which == UpdateDev {
		if err := s.RebuildLocal(); err != nil {
			return err
		}
	}
	if which == UpdateAll || which == UpdateProd {
		if err := s.DownloadProd(ctx, force); err != nil {
			return err
		}
	}
	return nil
}

// RebuildLocal reparses the project to rebuild the local manifest.
func (s *Service) RebuildLocal() error {
	if s.Rebuild == nil {
		return errors.New("manifest rebuild not configured")
	}
	s.Log.Info("parsing development manifest")
	return s.Rebuild()
}

// DownloadProd fetches the production manifest from the state bucket when
// forced or when the local copy is older than two hours. A download failure
// is surfaced as-is; there is no retry.
func (s *Service) DownloadProd(ctx context.Context, force bool) error {
	dest, err := s.Cfg.ProdManifestPath()
	if err != nil {
		return err
	}
	if !force && fileAge(dest) < prodManifestMaxAge {
		return nil
	}
	s.Log.Info("fetching production manifest",
		logger.String("bucket", s.Cfg.BucketStateIdentifier))

	if s.EnsureAuth != nil {
		if err := s.EnsureAuth(); err != nil {
			return err
		}
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()

	reader, err := client.Bucket(s.Cfg.BucketStateIdentifier).Object("manifest.json").NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open production manifest: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create prod-state dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("failed to download production manifest: %w", err)
	}
	return nil
}

// UploadProd publishes the locally built manifest to the state bucket so
// later deferred builds and downloads see it as the production state.
func (s *Service) UploadProd(ctx context.Context) error {
	s.Log.Info("saving state, uploading manifest to bucket",
		logger.String("bucket", s.Cfg.BucketStateIdentifier))

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()

	f, err := os.Open(s.Cfg.ManifestPath())
	if err != nil {
		return fmt.Errorf("failed to open local manifest: %w", err)
	}
	defer f.Close()

	writer := client.Bucket(s.Cfg.BucketStateIdentifier).Object("manifest.json").NewWriter(ctx)
	if _, err := io.Copy(writer, f); err != nil {
		writer.Close()
		return fmt.Errorf("failed to upload manifest: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize manifest upload: %w", err)
	}
	return nil
}

// fileAge returns the time since the file was last modified, or
// missingManifestAge when it does not exist.
func fileAge(path string) time.Duration {
	info, err := os.Stat(path)
	if err != nil {
		return missingManifestAge
	}
	return time.Since(info.ModTime())
}
