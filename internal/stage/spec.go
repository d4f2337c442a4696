package stage

import (
	_ "embed"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/screening-cli/internal/model"
)

// Spec describes one extraction stage: which category it produces, the prompt
// template it sends, how many items a plausible paper yields at minimum, and
// how many re-extraction attempts it gets.
type Spec struct {
	Name       string
	Category   model.Category
	Prompt     string
	MinItems   int
	MaxRetries int
	Validate   func(items []model.CandidateItem) []string
}

// defaultSpecs is the built-in stage table, one spec per section category.
func defaultSpecs() map[model.Category]Spec {
	return map[model.Category]Spec{
		model.CategoryGap: {
			Name:       "gaps",
			Category:   model.CategoryGap,
			Prompt:     gapsPrompt,
			MinItems:   1,
			MaxRetries: 2,
		},
		model.CategoryVariable: {
			Name:       "variables",
			Category:   model.CategoryVariable,
			Prompt:     variablesPrompt,
			MinItems:   3,
			MaxRetries: 2,
		},
		model.CategoryTechnique: {
			Name:       "techniques",
			Category:   model.CategoryTechnique,
			Prompt:     techniquesPrompt,
			MinItems:   4,
			MaxRetries: 2,
		},
		model.CategoryFinding: {
			Name:       "findings",
			Category:   model.CategoryFinding,
			Prompt:     findingsPrompt,
			MinItems:   2,
			MaxRetries: 2,
		},
	}
}

//go:embed stages.yaml
var stagesYAML []byte

type specOverride struct {
	Prompt     string `yaml:"prompt"`
	MinItems   *int   `yaml:"min_items"`
	MaxRetries *int   `yaml:"max_retries"`
}

type stageFile struct {
	Stages map[string]specOverride `yaml:"stages"`
}

// Specs returns the stage table: built-in defaults with the embedded YAML
// overrides applied. Every category has a spec; a YAML key that names no
// category is an error.
func Specs() (map[model.Category]Spec, error) {
	specs := defaultSpecs()

	var file stageFile
	if err := yaml.Unmarshal(stagesYAML, &file); err != nil {
		return nil, eris.Wrap(err, "stage: parse stages.yaml")
	}

	for name, ov := range file.Stages {
		cat := model.Category(name)
		spec, ok := specs[cat]
		if !ok {
			return nil, eris.Errorf("stage: unknown stage %q in stages.yaml", name)
		}
		if ov.Prompt != "" {
			spec.Prompt = ov.Prompt
		}
		if ov.MinItems != nil {
			spec.MinItems = *ov.MinItems
		}
		if ov.MaxRetries != nil {
			spec.MaxRetries = *ov.MaxRetries
		}
		specs[cat] = spec
	}

	return specs, nil
}
