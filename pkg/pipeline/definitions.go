package pipeline

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultFiles embed.FS

// Task outputs with a special meaning.
const (
	OutputPost        = "post"
	OutputImagePrompt = "image_prompt"
)

// Agent is the persona a task's prompt is written for.
type Agent struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
}

// Task is one step of the pipeline. Description and the agent's goal are
// text/template sources.
type Task struct {
	Name           string   `yaml:"-"`
	Agent          string   `yaml:"agent"`
	Description    string   `yaml:"description"`
	ExpectedOutput string   `yaml:"expected_output"`
	Output         string   `yaml:"output"`
	Sources        []string `yaml:"sources"`
}

// Definitions are the agents and the ordered tasks of a pipeline.
type Definitions struct {
	Agents map[string]Agent
	Tasks  []Task
}

// DefaultDefinitions returns the built-in research, writing and image
// prompt pipeline.
func DefaultDefinitions() (*Definitions, error) {
	agents, err := defaultFiles.ReadFile("defaults/agents.yaml")
	if err != nil {
		return nil, err
	}
	tasks, err := defaultFiles.ReadFile("defaults/tasks.yaml")
	if err != nil {
		return nil, err
	}
	return ParseDefinitions(agents, tasks)
}

// LoadDefinitions reads agents and tasks files. An empty path falls back to
// the built-in file of that kind.
func LoadDefinitions(agentsFile, tasksFile string) (*Definitions, error) {
	read := func(path, builtin string) ([]byte, error) {
		if path == "" {
			return defaultFiles.ReadFile(builtin)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return data, nil
	}

	agents, err := read(agentsFile, "defaults/agents.yaml")
	if err != nil {
		return nil, err
	}
	tasks, err := read(tasksFile, "defaults/tasks.yaml")
	if err != nil {
		return nil, err
	}
	return ParseDefinitions(agents, tasks)
}

// ParseDefinitions decodes YAML agents and tasks. Tasks run in the order
// they appear in the file.
func ParseDefinitions(agentsYAML, tasksYAML []byte) (*Definitions, error) {
	defs := &Definitions{Agents: make(map[string]Agent)}
	if err := yaml.Unmarshal(agentsYAML, &defs.Agents); err != nil {
		return nil, fmt.Errorf("failed to parse agents: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(tasksYAML, &root); err != nil {
		return nil, fmt.Errorf("failed to parse tasks: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("tasks file is empty")
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("tasks file must be a mapping of task name to task")
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		var task Task
		if err := mapping.Content[i+1].Decode(&task); err != nil {
			return nil, fmt.Errorf("task %s: %w", mapping.Content[i].Value, err)
		}
		task.Name = mapping.Content[i].Value
		defs.Tasks = append(defs.Tasks, task)
	}

	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return defs, nil
}

// Validate checks that every task names a known agent and that outputs are
// unique.
func (d *Definitions) Validate() error {
	if len(d.Tasks) == 0 {
		return fmt.Errorf("pipeline has no tasks")
	}

	seen := make(map[string]string)
	for _, t := range d.Tasks {
		if _, ok := d.Agents[t.Agent]; !ok {
			return fmt.Errorf("task %s references unknown agent %q", t.Name, t.Agent)
		}
		if t.Description == "" {
			return fmt.Errorf("task %s has no description", t.Name)
		}
		switch t.Output {
		case "":
		case OutputPost, OutputImagePrompt:
			if other, dup := seen[t.Output]; dup {
				return fmt.Errorf("tasks %s and %s both produce %s", other, t.Name, t.Output)
			}
			seen[t.Output] = t.Name
		default:
			return fmt.Errorf("task %s has unknown output %q", t.Name, t.Output)
		}
	}
	return nil
}

// PostTask returns the name of the task whose output is the post: the task
// marked output: post, or else the last task not marked image_prompt.
func (d *Definitions) PostTask() string {
	fallback := ""
	for _, t := range d.Tasks {
		if t.Output == OutputPost {
			return t.Name
		}
		if t.Output != OutputImagePrompt {
			fallback = t.Name
		}
	}
	return fallback
}
