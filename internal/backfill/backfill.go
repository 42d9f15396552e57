// Package backfill launches Cloud Run jobs that rebuild date-partitioned
// models over a historical date range, batched into parallel tasks.
package backfill

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dbtwiz/dbtwiz/internal/config"
	"github.com/dbtwiz/dbtwiz/internal/logger"
)

// maxConcurrentTasks caps job parallelism regardless of date range size.
const maxConcurrentTasks = 8

// maxJobNameLength is the Cloud Run limit on job names.
const maxJobNameLength = 64

// specFileName is the job spec written under the project dot directory.
const specFileName = "backfill-cloudrun.yaml"

// Options describes one backfill run.
type Options struct {
	Selector    string
	FirstDate   time.Time
	LastDate    time.Time
	FullRefresh bool
	Parallelism int
	BatchSize   int
	// ShowStatus opens the job status page in a browser after launch.
	ShowStatus bool
}

// Runner generates job specs and launches them through gcloud.
type Runner struct {
	Cfg *config.ProjectConfig
	Log logger.Logger

	runCommand func(name string, args ...string) error
	openURL    func(url string) error
}

// NewRunner creates a backfill runner.
func NewRunner(cfg *config.ProjectConfig, log logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		Cfg:        cfg,
		Log:        log,
		runCommand: runAttached,
		openURL:    openBrowser,
	}
}

func runAttached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func openBrowser(url string) error {
	return exec.Command("xdg-open", url).Start()
}

// JobName derives a Cloud Run job name from a dbt selector. Underscores
// become hyphens and graph operators are stripped; names over the limit are
// shortened by repeatedly halving the longest word, dropping trailing words
// when halving no longer helps.
func JobName(selector string) string {
	name := strings.ReplaceAll(selector, "_", "-")
	name = strings.ReplaceAll(name, "+", "")
	for len(name) > maxJobNameLength {
		prevLen := len(name)
		words := strings.Split(name, "-")
		longest := 0
		for i, w := range words {
			if len(w) > len(words[longest]) {
				longest = i
			}
		}
		words[longest] = halve(words[longest])
		var kept []string
		for _, w := range words {
			if w != "" {
				kept = append(kept, w)
			}
		}
		name = strings.Join(kept, "-")
		if len(name) == prevLen {
			kept = kept[:len(kept)-1]
			name = strings.Join(kept, "-")
		}
	}
	return name
}

// halve shortens a word to its first and last quarter.
func halve(word string) string {
	quarter := len(word) / 4
	if quarter < 1 {
		quarter = 1
	}
	return word[:quarter] + word[len(word)-quarter:]
}

// Cloud Run v1 job spec, the subset the backfill job needs.
type jobSpec struct {
	APIVersion string      `yaml:"apiVersion"`
	Kind       string      `yaml:"kind"`
	Metadata   jobMetadata `yaml:"metadata"`
	Spec       jobSpecBody `yaml:"spec"`
}

type jobMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels"`
}

type jobSpecBody struct {
	Template jobTemplate `yaml:"template"`
}

type jobTemplate struct {
	Spec jobTaskSpec `yaml:"spec"`
}

type jobTaskSpec struct {
	Parallelism int          `yaml:"parallelism"`
	TaskCount   int          `yaml:"taskCount"`
	Template    taskTemplate `yaml:"template"`
}

type taskTemplate struct {
	Spec taskSpec `yaml:"spec"`
}

type taskSpec struct {
	Containers         []container `yaml:"containers"`
	MaxRetries         int         `yaml:"maxRetries"`
	TimeoutSeconds     int         `yaml:"timeoutSeconds"`
	ServiceAccountName string      `yaml:"serviceAccountName"`
}

type container struct {
	Image     string    `yaml:"image"`
	Command   []string  `yaml:"command"`
	Args      []string  `yaml:"args"`
	Resources resources `yaml:"resources"`
}

type resources struct {
	Limits map[string]string `yaml:"limits"`
}

// buildJobSpec assembles the Cloud Run job spec for the given options.
func (r *Runner) buildJobSpec(opts Options) (jobSpec, error) {
	days := int(opts.LastDate.Sub(opts.FirstDate).Hours()/24) + 1
	if days < 1 {
		return jobSpec{}, fmt.Errorf("invalid date range: %s is after %s",
			opts.FirstDate.Format("2006-01-02"), opts.LastDate.Format("2006-01-02"))
	}
	if opts.FullRefresh {
		if days != 1 {
			return jobSpec{}, fmt.Errorf("full refresh requires a single-day date range, got %d days", days)
		}
		if strings.Contains(opts.Selector, "+") {
			return jobSpec{}, fmt.Errorf("full refresh cannot be combined with graph operators in selector %q", opts.Selector)
		}
	}

	taskCount := int(math.Ceil(float64(days) / float64(opts.BatchSize)))
	parallelism := opts.Parallelism
	if parallelism > maxConcurrentTasks {
		parallelism = maxConcurrentTasks
	}
	if parallelism > taskCount {
		parallelism = taskCount
	}

	args := []string{
		"build",
		"--target", "prod",
		"--select", opts.Selector,
		"--start-date", opts.FirstDate.Format("2006-01-02"),
		"--end-date", opts.LastDate.Format("2006-01-02"),
		"--batch-size", fmt.Sprintf("%d", opts.BatchSize),
		"--use-task-index",
	}
	if opts.FullRefresh {
		args = append(args, "--full-refresh")
	}

	return jobSpec{
		APIVersion: "run.googleapis.com/v1",
		Kind:       "Job",
		Metadata: jobMetadata{
			Name: JobName(opts.Selector),
			Labels: map[string]string{
				"cloud.googleapis.com/location": r.Cfg.ServiceAccountRegion,
			},
		},
		Spec: jobSpecBody{
			Template: jobTemplate{
				Spec: jobTaskSpec{
					Parallelism: parallelism,
					TaskCount:   taskCount,
					Template: taskTemplate{
						Spec: taskSpec{
							Containers: []container{{
								Image:   r.Cfg.DockerImageURLDbt,
								Command: []string{"dbtwiz"},
								Args:    args,
								Resources: resources{
									Limits: map[string]string{
										"cpu":    "1000m",
										"memory": "2Gi",
									},
								},
							}},
							MaxRetries:         2,
							TimeoutSeconds:     900,
							ServiceAccountName: r.Cfg.ServiceAccountIdentifier,
						},
					},
				},
			},
		},
	}, nil
}

// GenerateJobSpec writes the job spec YAML under the project dot directory
// and returns the job name and spec file path.
func (r *Runner) GenerateJobSpec(opts Options) (string, string, error) {
	spec, err := r.buildJobSpec(opts)
	if err != nil {
		return "", "", err
	}

	data, err := yaml.Marshal(spec)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal job spec: %w", err)
	}
	path, err := r.Cfg.DotPath(specFileName)
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write job spec: %w", err)
	}
	return spec.Metadata.Name, path, nil
}

// Run generates the job spec, replaces the Cloud Run job definition and
// starts an execution.
func (r *Runner) Run(opts Options) error {
	jobName, specPath, err := r.GenerateJobSpec(opts)
	if err != nil {
		return err
	}

	project := r.Cfg.ServiceAccountProject
	region := r.Cfg.ServiceAccountRegion

	r.Log.Info("preparing job for execution", logger.String("job", jobName))
	if err := r.runCommand("gcloud", "run", "--project="+project, "jobs", "replace", specPath); err != nil {
		return fmt.Errorf("failed to replace Cloud Run job: %w", err)
	}

	r.Log.Info("starting job execution", logger.String("job", jobName))
	if err := r.runCommand("gcloud", "run", "--project="+project, "jobs", "execute", "--region="+region, jobName); err != nil {
		return fmt.Errorf("failed to execute Cloud Run job: %w", err)
	}

	statusURL := fmt.Sprintf(
		"https://console.cloud.google.com/run/jobs/details/%s/%s/executions?project=%s",
		region, jobName, project)
	r.Log.Info("job status page", logger.String("url", statusURL))
	if opts.ShowStatus {
		if err := r.openURL(statusURL); err != nil {
			r.Log.Warn("failed to open status page", logger.Err(err))
		}
	}
	return nil
}
