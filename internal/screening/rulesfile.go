package screening

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v2"

	"imfcscli/pkg/contracts/domain"
)

// LoadRules reads screening thresholds from a YAML file. Missing fields
// keep their default values, so a rules file only has to name the
// thresholds it changes.
func LoadRules(path string) (domain.Rules, error) {
	rules := domain.DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file: %w", err)
	}

	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	if err := ValidateRules(rules); err != nil {
		return rules, fmt.Errorf("invalid rules in %s: %w", path, err)
	}
	return rules, nil
}

// SaveRules validates the thresholds and writes them as YAML. Every field
// is written out, so the saved file reloads to the same thresholds even if
// the defaults change later.
func SaveRules(path string, rules domain.Rules) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}

	data, err := yaml.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write rules file %s: %w", path, err)
	}
	return nil
}

// ValidateRules checks thresholds for consistency (positive NRMSD bound,
// fitted fraction within [0,1], MaxD at least MinD).
func ValidateRules(rules domain.Rules) error {
	if err := validator.New().Struct(rules); err != nil {
		return fmt.Errorf("rules validation failed: %w", err)
	}
	return nil
}
