// Package crew runs YAML-defined analyst tasks through the tool-calling agent, one after another.
package crew

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed config/agents.yaml config/tasks.yaml
var defaults embed.FS

// AgentSpec describes the persona a task runs under.
type AgentSpec struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
}

// TaskSpec is one unit of work for an agent.
type TaskSpec struct {
	Name           string `yaml:"-"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
	Agent          string `yaml:"agent"`
	Markdown       bool   `yaml:"markdown"`
	OutputFile     string `yaml:"output_file"`
}

// Roster holds the agents and the tasks in the order they were declared.
type Roster struct {
	Agents map[string]AgentSpec
	Tasks  []TaskSpec
}

// LoadRoster reads the agents and tasks files. An empty path selects the built-in definition.
func LoadRoster(agentsFile, tasksFile string) (*Roster, error) {
	agentsData, err := readOrDefault(agentsFile, "config/agents.yaml")
	if err != nil {
		return nil, err
	}
	tasksData, err := readOrDefault(tasksFile, "config/tasks.yaml")
	if err != nil {
		return nil, err
	}
	return ParseRoster(agentsData, tasksData)
}

// ParseRoster parses agents and tasks YAML and checks every task names a known agent.
func ParseRoster(agentsData, tasksData []byte) (*Roster, error) {
	r := &Roster{Agents: map[string]AgentSpec{}}
	if err := yaml.Unmarshal(agentsData, &r.Agents); err != nil {
		return nil, fmt.Errorf("parsing agents: %w", err)
	}

	// Decode through a node so tasks keep their file order.
	var doc yaml.Node
	if err := yaml.Unmarshal(tasksData, &doc); err != nil {
		return nil, fmt.Errorf("parsing tasks: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("parsing tasks: no tasks defined")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing tasks: line %d: expected a mapping of task names", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		var t TaskSpec
		if err := root.Content[i+1].Decode(&t); err != nil {
			return nil, fmt.Errorf("parsing task %q: %w", root.Content[i].Value, err)
		}
		t.Name = root.Content[i].Value
		r.Tasks = append(r.Tasks, t)
	}

	for _, t := range r.Tasks {
		if strings.TrimSpace(t.Description) == "" {
			return nil, fmt.Errorf("task %q has no description", t.Name)
		}
		if _, ok := r.Agents[t.Agent]; !ok {
			return nil, fmt.Errorf("task %q references unknown agent %q", t.Name, t.Agent)
		}
	}
	return r, nil
}

func readOrDefault(path, embedded string) ([]byte, error) {
	if path == "" {
		return defaults.ReadFile(embedded)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Interpolate replaces {name} placeholders with inputs. Unknown placeholders are kept.
func Interpolate(s string, inputs map[string]string) string {
	if len(inputs) == 0 {
		return s
	}
	pairs := make([]string, 0, len(inputs)*2)
	for k, v := range inputs {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
