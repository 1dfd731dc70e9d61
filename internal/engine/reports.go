package engine

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/nrquery/internal/stats"
	"github.com/miradorstack/nrquery/internal/utils"
	"github.com/miradorstack/nrquery/internal/weighting"
)

// Report is a scheduled set of queries reduced into gauges.
type Report struct {
	Name     string          `yaml:"name"`
	Schedule string          `yaml:"schedule"`
	Queries  []string        `yaml:"queries"`
	Series   []string        `yaml:"series"`
	Reducers []ReducerConfig `yaml:"reducers"`
}

// ReducerConfig names a reducer and, for avg, its weighting model.
type ReducerConfig struct {
	Op    string `yaml:"op"`
	Model string `yaml:"model"`
}

// Label is the reducer label used on exported gauges, e.g. "avg:exponential".
func (s ReducerConfig) Label() string {
	op, err := stats.ParseOp(s.Op)
	if err != nil {
		return s.Op
	}
	if op == stats.OpAvg {
		return fmt.Sprintf("%s:%s", op, weighting.ParseModel(s.Model))
	}
	return string(op)
}

// ReportFile is the YAML root structure.
type ReportFile struct {
	Reports []Report `yaml:"reports"`
}

// LoadReports reads report definitions. An empty or missing path yields no reports.
func LoadReports(path string) ([]Report, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, utils.Wrap("engine.LoadReports", "read reports", err)
	}
	var file ReportFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, utils.Wrap("engine.LoadReports", "parse reports", err)
	}

	seen := make(map[string]bool, len(file.Reports))
	for i, r := range file.Reports {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("report %d: %w", i, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("report %q defined twice", r.Name)
		}
		seen[r.Name] = true
	}
	return file.Reports, nil
}

func (r Report) validate() error {
	switch {
	case r.Name == "":
		return errors.New("name is required")
	case r.Schedule == "":
		return fmt.Errorf("%s: schedule is required", r.Name)
	case len(r.Queries) == 0:
		return fmt.Errorf("%s: %w", r.Name, ErrEmptyBatch)
	case len(r.Reducers) == 0:
		return fmt.Errorf("%s: at least one reducer is required", r.Name)
	}
	for _, reducer := range r.Reducers {
		if _, err := stats.ParseOp(reducer.Op); err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
	}
	return nil
}
