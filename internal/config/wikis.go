package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Wiki identifies one wiki and where its revisions are archived.
type Wiki struct {
	API      string              `yaml:"api"`
	S3Bucket string              `yaml:"s3_bucket"`
	S3Prefix string              `yaml:"s3_prefix"`
	Sources  []map[string]string `yaml:"sources"`
	// Slots selects the revision slot for wikis with multi-content
	// revisions. Empty means the legacy flat content layout.
	Slots string `yaml:"slots,omitempty"`
}

// WikiDocument is the top level of the wikis document.
type WikiDocument struct {
	Wikis []Wiki `yaml:"wikis"`
}

type rawWiki struct {
	API      *string             `yaml:"api"`
	S3Bucket *string             `yaml:"s3_bucket"`
	S3Prefix *string             `yaml:"s3_prefix"`
	Sources  []sourceParams `yaml:"sources"`
	Slots    string         `yaml:"slots"`
}

// sourceParams holds the query parameters of one source. A sequence value
// is joined with "|", the API's multi-value separator.
type sourceParams map[string]string

func (p *sourceParams) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: source must be a mapping", value.Line)
	}
	params := make(sourceParams, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			params[key.Value] = val.Value
		case yaml.SequenceNode:
			items := make([]string, 0, len(val.Content))
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("line %d: %q: list items must be scalars", item.Line, key.Value)
				}
				items = append(items, item.Value)
			}
			params[key.Value] = strings.Join(items, "|")
		default:
			return fmt.Errorf("line %d: %q: value must be a scalar or a list", val.Line, key.Value)
		}
	}
	*p = params
	return nil
}

type rawDocument struct {
	Wikis *[]rawWiki `yaml:"wikis"`
}

// ParseWikis decodes and validates a wikis document.
// The prefix may be empty but must be present.
func ParseWikis(data []byte) (*WikiDocument, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse wikis document: %w", err)
	}
	if raw.Wikis == nil {
		return nil, fmt.Errorf("wikis document: missing %q", "wikis")
	}

	doc := &WikiDocument{Wikis: make([]Wiki, 0, len(*raw.Wikis))}
	for i, rw := range *raw.Wikis {
		switch {
		case rw.API == nil || *rw.API == "":
			return nil, fmt.Errorf("wikis[%d]: missing %q", i, "api")
		case rw.S3Bucket == nil || *rw.S3Bucket == "":
			return nil, fmt.Errorf("wikis[%d]: missing %q", i, "s3_bucket")
		case rw.S3Prefix == nil:
			return nil, fmt.Errorf("wikis[%d]: missing %q", i, "s3_prefix")
		case rw.Sources == nil:
			return nil, fmt.Errorf("wikis[%d]: missing %q", i, "sources")
		}
		sources := make([]map[string]string, 0, len(rw.Sources))
		for j, src := range rw.Sources {
			if len(src) == 0 {
				return nil, fmt.Errorf("wikis[%d].sources[%d]: empty source", i, j)
			}
			sources = append(sources, src)
		}
		doc.Wikis = append(doc.Wikis, Wiki{
			API:      *rw.API,
			S3Bucket: *rw.S3Bucket,
			S3Prefix: *rw.S3Prefix,
			Sources:  sources,
			Slots:    rw.Slots,
		})
	}
	return doc, nil
}
