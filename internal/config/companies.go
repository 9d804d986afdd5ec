package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TrackedCompany is one entry of the tracked-company list.
// Name, when given, seeds the company before its registry identifier is known.
type TrackedCompany struct {
	Ticker   string `yaml:"ticker"`
	Category string `yaml:"category"`
	Name     string `yaml:"name"`
}

// TrackedCompanies accepts either:
//  1. mapping form (preferred):
//     companies:
//     DUOL: edtech
//     CHGG: edtech
//  2. list form:
//     companies:
//     - DUOL
//     - {ticker: CHGG, category: edtech, name: "Chegg, Inc."}
//
// Order of the file is preserved.
type TrackedCompanies struct {
	Items []TrackedCompany
}

func (t *TrackedCompanies) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		items := make([]TrackedCompany, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			ticker := strings.TrimSpace(value.Content[i].Value)
			if ticker == "" {
				continue
			}
			items = append(items, TrackedCompany{
				Ticker:   strings.ToUpper(ticker),
				Category: strings.TrimSpace(value.Content[i+1].Value),
			})
		}
		t.Items = items
		return nil
	case yaml.SequenceNode:
		items := make([]TrackedCompany, 0, len(value.Content))
		for _, n := range value.Content {
			switch n.Kind {
			case yaml.ScalarNode:
				if s := strings.TrimSpace(n.Value); s != "" {
					items = append(items, TrackedCompany{Ticker: strings.ToUpper(s)})
				}
			case yaml.MappingNode:
				var tc TrackedCompany
				if err := n.Decode(&tc); err != nil {
					return err
				}
				tc.Ticker = strings.ToUpper(strings.TrimSpace(tc.Ticker))
				tc.Name = strings.TrimSpace(tc.Name)
				if tc.Ticker != "" {
					items = append(items, tc)
				}
			}
		}
		t.Items = items
		return nil
	default:
		return nil
	}
}

type companiesFile struct {
	Companies TrackedCompanies `yaml:"companies"`
}

// LoadCompanies reads the tracked-company list from a YAML file.
func LoadCompanies(path string) (TrackedCompanies, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return TrackedCompanies{}, fmt.Errorf("read companies file: %w", err)
	}
	var f companiesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return TrackedCompanies{}, fmt.Errorf("parse companies file %s: %w", path, err)
	}
	if len(f.Companies.Items) == 0 {
		return TrackedCompanies{}, fmt.Errorf("%w: no companies in %s", ErrConfig, path)
	}
	return f.Companies, nil
}
