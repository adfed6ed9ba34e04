// Package definitions loads tasks and builds from a YAML or HCL file.
package definitions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/registry"
)

// Set is the content of one definitions file.
type Set struct {
	Path   string
	Tasks  []domain.Task
	Builds []domain.Build
}

// Replacer receives a loaded set. *registry.Registry implements it.
type Replacer interface {
	Replace(tasks []domain.Task, builds []domain.Build) error
}

// Apply swaps the registry content for s.
func (s *Set) Apply(r Replacer) error {
	return r.Replace(s.Tasks, s.Builds)
}

// fileTask is the on-disk shape shared by both formats.
type fileTask struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Dependencies []string          `yaml:"dependencies"`
	Command      string            `yaml:"command"`
	WorkingDir   string            `yaml:"working_dir"`
	Env          map[string]string `yaml:"env"`
	Timeout      string            `yaml:"timeout"`
}

type fileBuild struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tasks       []string `yaml:"tasks"`
}

type yamlFile struct {
	Tasks  []fileTask  `yaml:"tasks"`
	Builds []fileBuild `yaml:"builds"`
}

// Load reads path, picking the format from its extension (.yaml, .yml, .hcl),
// and validates the result.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.NotFoundError(fmt.Sprintf("definitions file not found: %s", path)).
				WithContext("path", path).
				Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read definitions file").
			WithContext("path", path).
			Build()
	}
	return Parse(path, data)
}

// Parse decodes data named path. Relative working directories are resolved
// against the directory of path.
func Parse(path string, data []byte) (*Set, error) {
	var (
		tasks  []fileTask
		builds []fileBuild
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var f yamlFile
		if err = yaml.Unmarshal(data, &f); err != nil {
			return nil, invalid(path, fmt.Sprintf("decode YAML: %v", err))
		}
		tasks, builds = f.Tasks, f.Builds
	case ".hcl":
		tasks, builds, err = decodeHCL(path, data)
		if err != nil {
			return nil, invalid(path, err.Error())
		}
	default:
		return nil, invalid(path, fmt.Sprintf("unsupported definitions format %q", filepath.Ext(path)))
	}

	set := &Set{Path: path}
	base := filepath.Dir(path)
	for _, ft := range tasks {
		t, err := ft.task(base)
		if err != nil {
			return nil, invalid(path, err.Error())
		}
		set.Tasks = append(set.Tasks, t)
	}
	for _, fb := range builds {
		set.Builds = append(set.Builds, domain.Build{Name: fb.Name, Description: fb.Description, Tasks: fb.Tasks})
	}
	if err := set.Validate(); err != nil {
		return nil, invalid(path, messageOf(err))
	}
	return set, nil
}

// Validate rejects duplicate names, self or repeated dependencies, repeated
// build members and references to undefined tasks.
func (s *Set) Validate() error {
	scratch := registry.New()
	if err := scratch.Replace(s.Tasks, s.Builds); err != nil {
		return err
	}
	return scratch.Validate()
}

func (ft fileTask) task(base string) (domain.Task, error) {
	t := domain.Task{
		Name:         ft.Name,
		Description:  ft.Description,
		Dependencies: ft.Dependencies,
		Command:      ft.Command,
		WorkingDir:   ft.WorkingDir,
		Env:          ft.Env,
	}
	if ft.Timeout != "" {
		d, err := time.ParseDuration(ft.Timeout)
		if err != nil || d <= 0 {
			return t, fmt.Errorf("task %q: invalid timeout %q", ft.Name, ft.Timeout)
		}
		t.Timeout = d
	}
	if t.WorkingDir != "" && !filepath.IsAbs(t.WorkingDir) {
		t.WorkingDir = filepath.Join(base, t.WorkingDir)
	}
	return t, nil
}

func invalid(path, msg string) error {
	return ferrors.ValidationError(fmt.Sprintf("%s: %s", path, msg)).
		WithContext("path", path).
		Build()
}

func messageOf(err error) string {
	if c, ok := ferrors.AsClassified(err); ok {
		return c.Message()
	}
	return err.Error()
}
