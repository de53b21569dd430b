package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a deployment to run, how
// many epochs to wait for at the root and what the root must have seen.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Deployment is the path of the CUE deployment to run, relative to the
	// scenario file.
	Deployment string `yaml:"deployment"`

	// Epochs is how many epochs to wait for. Zero waits for every run of
	// the deployment's query.
	Epochs int `yaml:"epochs,omitempty"`

	// Timeout bounds the run. Defaults to DefaultTimeout.
	Timeout string `yaml:"timeout,omitempty"`

	// Assertions validate the epochs and exceptions seen at the root.
	// Supported types: result_count, row_count, rows, exception, no_exceptions
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates what the root saw.
type Assertion struct {
	// Type specifies the assertion type:
	// - "result_count": exactly Count epoch results arrived
	// - "row_count": the result of Epoch has Count rows
	// - "rows": the result of Epoch has exactly Rows, in any order
	// - "exception": an exception from Reporter with Code arrived
	// - "no_exceptions": no exception arrived
	Type string `yaml:"type"`

	Epoch    int64      `yaml:"epoch,omitempty"`
	Count    int        `yaml:"count,omitempty"`
	Rows     [][]string `yaml:"rows,omitempty"` // value tokens, "-" for missing
	Reporter uint64     `yaml:"reporter,omitempty"`
	Code     string     `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertResultCount  = "result_count"
	AssertRowCount     = "row_count"
	AssertRows         = "rows"
	AssertException    = "exception"
	AssertNoExceptions = "no_exceptions"
)

// LoadScenario reads and parses a scenario YAML file and resolves its
// deployment path. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Deployment != "" && !filepath.IsAbs(scenario.Deployment) {
		scenario.Deployment = filepath.Join(filepath.Dir(path), scenario.Deployment)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the scenario files at path: the file itself, or
// every .yaml and .yml file below a directory.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ext := filepath.Ext(p); !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Deployment == "" {
		return fmt.Errorf("deployment is required")
	}
	if _, err := os.Stat(s.Deployment); os.IsNotExist(err) {
		return fmt.Errorf("deployment file not found: %s", s.Deployment)
	}
	if s.Epochs < 0 {
		return fmt.Errorf("epochs must be non-negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertResultCount, AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertRows:
		if a.Rows == nil {
			return fmt.Errorf("assertions[%d]: rows is required for rows", index)
		}
	case AssertException:
		if a.Reporter == 0 && a.Code == "" {
			return fmt.Errorf("assertions[%d]: reporter or code is required for exception", index)
		}
	case AssertNoExceptions:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
