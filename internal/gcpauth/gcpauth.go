// Package gcpauth checks that Google Cloud credentials are fresh before
// commands hit BigQuery, prompting for reauthentication when they are not.
package gcpauth

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/ui"
)

// credentialLifetime is how long application-default credentials stay valid
// after `gcloud auth application-default login`. The credential file carries
// no expiry, so its mtime plus this lifetime is the best estimate available.
const credentialLifetime = 18 * time.Hour

// expiryWarningWindow triggers a warning when credentials are about to
// expire mid-command.
const expiryWarningWindow = 5 * time.Minute

// Checker verifies gcloud and application-default credentials.
type Checker struct {
	Log logger.Logger
	// Confirm asks the user a yes/no question. Defaults to ui.Confirm.
	Confirm func(message string) (bool, error)
	// Enabled mirrors the user config auth_check flag; when false all checks
	// are skipped.
	Enabled bool

	runCommand      func(name string, args ...string) error
	lookPath        func(name string) (string, error)
	now             func() time.Time
	credentialsFile string // test override
}

// NewChecker creates a credential checker.
func NewChecker(log logger.Logger, enabled bool) *Checker {
	if log == nil {
		log = logger.Nop()
	}
	return &Checker{
		Log:        log,
		Confirm:    ui.Confirm,
		Enabled:    enabled,
		runCommand: runInteractive,
		lookPath:   exec.LookPath,
		now:        time.Now,
	}
}

func runInteractive(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// credentialsPath returns the location of the application-default
// credentials file.
func credentialsPath() (string, error) {
	rel := filepath.Join("gcloud", "application_default_credentials.json")
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			candidate := filepath.Join(appData, rel)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".config", rel), nil
}

// EnsureApplicationDefault verifies that application-default credentials
// exist and have not passed their estimated expiry, offering to rerun the
// login flow when they have.
func (c *Checker) EnsureApplicationDefault() error {
	if !c.Enabled {
		return nil
	}

	path := c.credentialsFile
	if path == "" {
		var err error
		path, err = credentialsPath()
		if err != nil {
			return err
		}
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		c.Log.Warn("no GCP application-default credentials found")
	case err != nil:
		return fmt.Errorf("failed to check credentials file: %w", err)
	default:
		expiry := info.ModTime().Add(credentialLifetime)
		remaining := expiry.Sub(c.now())
		switch {
		case remaining >= expiryWarningWindow:
			return nil
		case remaining > 0:
			c.Log.Warn("GCP application-default credentials expire within the next five minutes")
		default:
			c.Log.Warn("GCP application-default credentials seem to have expired",
				logger.String("expired_at", expiry.Format("2006-01-02 15:04:05")))
		}
	}

	ok, err := c.Confirm("Do you wish to reauthenticate now?")
	if err != nil || !ok {
		return err
	}
	return c.runCommand("gcloud", "auth", "application-default", "login")
}

// EnsureGcloud verifies that the gcloud CLI is installed and its auth tokens
// can still be refreshed.
func (c *Checker) EnsureGcloud() error {
	if _, err := c.lookPath("gcloud"); err != nil {
		return fmt.Errorf("gcloud not found; ensure the Google Cloud CLI is installed: %w", err)
	}

	cmd := exec.Command("gcloud", "auth", "print-access-token")
	var stderr strings.Builder
	cmd.Stderr = &stderr
	_ = cmd.Run()

	out := stderr.String()
	if !strings.Contains(out, "Reauthentication required") &&
		!strings.Contains(out, "There was a problem refreshing your current auth tokens") {
		return nil
	}

	ok, err := c.Confirm("Do you wish to reauthenticate now?")
	if err != nil || !ok {
		return err
	}
	return c.runCommand("gcloud", "auth", "login")
}

// Ensure runs the requested checks, application-default first.
func (c *Checker) Ensure(appDefault, gcloud bool) error {
	if appDefault {
		if err := c.EnsureApplicationDefault(); err != nil {
			return err
		}
	}
	if gcloud {
		return c.EnsureGcloud()
	}
	return nil
}
