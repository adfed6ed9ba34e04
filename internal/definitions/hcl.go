package definitions

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

type hclFile struct {
	Tasks  []*hclTask  `hcl:"task,block"`
	Builds []*hclBuild `hcl:"build,block"`
}

type hclTask struct {
	Name        string            `hcl:"name,label"`
	Description string            `hcl:"description,optional"`
	DependsOn   []string          `hcl:"depends_on,optional"`
	Command     string            `hcl:"command,optional"`
	WorkingDir  string            `hcl:"working_dir,optional"`
	Env         map[string]string `hcl:"env,optional"`
	Timeout     string            `hcl:"timeout,optional"`
}

type hclBuild struct {
	Name        string   `hcl:"name,label"`
	Description string   `hcl:"description,optional"`
	Tasks       []string `hcl:"tasks"`
}

func decodeHCL(path string, data []byte) ([]fileTask, []fileBuild, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("parse HCL: %w", diags)
	}
	var parsed hclFile
	if diags := gohcl.DecodeBody(f.Body, nil, &parsed); diags.HasErrors() {
		return nil, nil, fmt.Errorf("decode HCL: %w", diags)
	}

	tasks := make([]fileTask, 0, len(parsed.Tasks))
	for _, t := range parsed.Tasks {
		tasks = append(tasks, fileTask{
			Name:         t.Name,
			Description:  t.Description,
			Dependencies: t.DependsOn,
			Command:      t.Command,
			WorkingDir:   t.WorkingDir,
			Env:          t.Env,
			Timeout:      t.Timeout,
		})
	}
	builds := make([]fileBuild, 0, len(parsed.Builds))
	for _, b := range parsed.Builds {
		builds = append(builds, fileBuild{Name: b.Name, Description: b.Description, Tasks: b.Tasks})
	}
	return tasks, builds, nil
}
