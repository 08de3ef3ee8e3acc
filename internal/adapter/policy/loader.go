package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/guillermoBallester/sqlguard/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a YAML guard policy and returns a validated Policy.
func LoadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML guard policy. Unknown keys are
// rejected so a misspelt option fails loudly instead of silently taking
// its default.
func Parse(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var pol Policy
	if err := dec.Decode(&pol); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing policy YAML: document is empty")
		}
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	if err := validate(&pol); err != nil {
		return nil, fmt.Errorf("validating policy: %w", err)
	}

	return &pol, nil
}

// Marshal renders a policy as YAML.
func Marshal(pol *Policy) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(pol); err != nil {
		return nil, fmt.Errorf("encoding policy YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding policy YAML: %w", err)
	}
	return buf.Bytes(), nil
}

func validate(pol *Policy) error {
	if !pol.dialect().Valid() {
		return fmt.Errorf("dialect: %w %q (allowed: mysql, postgres)", domain.ErrUnknownDialect, pol.Dialect)
	}
	if pol.DefaultLimit != nil && *pol.DefaultLimit <= 0 {
		return fmt.Errorf("defaultLimit: must be a positive integer, got %d", *pol.DefaultLimit)
	}

	seen := make(map[string]bool, len(pol.TableConfigs))
	for i, tc := range pol.TableConfigs {
		name := strings.ToLower(strings.TrimSpace(tc.TableName))
		if name == "" {
			return fmt.Errorf("tableConfigs[%d].tableName is empty", i)
		}
		if seen[name] {
			return fmt.Errorf("tableConfigs[%d]: duplicate tableName %q", i, tc.TableName)
		}
		seen[name] = true
		for j, f := range tc.FeatureFields {
			if strings.TrimSpace(f) == "" {
				return fmt.Errorf("tableConfigs[%d].featureFields[%d] is empty", i, j)
			}
		}
	}
	return nil
}
