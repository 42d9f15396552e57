// Package render writes per-model info files used as previews in the
// interactive model picker. One plain-text file per model, refreshed only
// when the model's .sql or .yml source changed since the last render.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
)

// infoTemplate is the per-model preview body. Blank-line runs in the output
// are squashed after rendering, so optional sections can stay readable here.
const infoTemplate = `{{bold .Name}}{{if .Deprecated}}  [DEPRECATED]{{end}}

{{.RelationName}}
materialized: {{.Materialized}}
{{if .Tags}}tags: {{join .Tags ", "}}
{{end}}{{if .Group}}group: {{.Group}}
{{end}}
{{if .Description}}{{.Description}}
{{end}}
{{if .ParentModels}}{{bold "Upstream"}}
{{range .ParentModels}}- {{.}}
{{end}}{{end}}
{{if .ChildModels}}{{bold "Downstream"}}
{{range .ChildModels}}- {{.}}
{{end}}{{end}}`

var blankLines = regexp.MustCompile(`\n\n+`)

// Renderer writes model info files.
type Renderer struct {
	// OutputDir is where the .txt files go.
	OutputDir string
	// ProjectRoot is the dbt project root; model source paths are resolved
	// against it for staleness checks.
	ProjectRoot string
	Log         logger.Logger

	tmpl *template.Template
}

// NewRenderer creates a renderer writing to outputDir.
func NewRenderer(outputDir, projectRoot string, log logger.Logger) (*Renderer, error) {
	if log == nil {
		log = logger.Nop()
	}
	tmpl, err := template.New("model_info").Funcs(template.FuncMap{
		"join": strings.Join,
		"bold": func(s string) string { return "\033[1m" + s + "\033[0m" },
	}).Parse(infoTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model info template: %w", err)
	}
	return &Renderer{
		OutputDir:   outputDir,
		ProjectRoot: projectRoot,
		Log:         log,
		tmpl:        tmpl,
	}, nil
}

// InfoPath returns the info file path for a model name.
func (r *Renderer) InfoPath(name string) string {
	return filepath.Join(r.OutputDir, name+".txt")
}

// UpdateAll renders info files for every model whose rendered file is
// missing or older than its .sql/.yml sources.
func (r *Renderer) UpdateAll(models map[string]*manifest.ModelInfo) error {
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		model := models[name]
		path := r.InfoPath(name)
		if r.upToDate(model, path) {
			continue
		}
		r.Log.Debug("rendering model info", logger.String("model", name))
		if err := r.render(model, path); err != nil {
			return fmt.Errorf("failed to render info for %s: %w", name, err)
		}
	}
	return nil
}

// upToDate reports whether the rendered file is at least as new as every
// existing source file of the model.
func (r *Renderer) upToDate(model *manifest.ModelInfo, infoPath string) bool {
	info, err := os.Stat(infoPath)
	if err != nil {
		return false
	}
	for _, ext := range []string{".sql", ".yml"} {
		src := filepath.Join(r.ProjectRoot, model.Folder, model.Name+ext)
		srcInfo, err := os.Stat(src)
		if err != nil {
			continue
		}
		if srcInfo.ModTime().After(info.ModTime()) {
			return false
		}
	}
	return true
}

func (r *Renderer) render(model *manifest.ModelInfo, path string) error {
	var b strings.Builder
	if err := r.tmpl.Execute(&b, model); err != nil {
		return err
	}
	body := blankLines.ReplaceAllString(b.String(), "\n\n")
	return os.WriteFile(path, []byte(body), 0o644)
}
