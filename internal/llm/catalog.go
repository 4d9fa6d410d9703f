package llm

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Keys of the structured objects each prompt's schema declares.
const (
	KeyChannelName = "channelName"
	KeyQueries     = "queries"
	KeyKeepIDs     = "videoIds"
	KeyOrderedIDs  = "orderedVideoIds"
)

//go:embed catalog.yaml
var catalogYAML []byte

type specDoc struct {
	Name       string         `yaml:"name"`
	Version    int            `yaml:"version"`
	SchemaName string         `yaml:"schema_name"`
	Schema     map[string]any `yaml:"schema"`
	Validators []string       `yaml:"validators"`
	System     string         `yaml:"system"`
	User       string         `yaml:"user"`
}

var validatorsByName = map[string]Validator{
	"description": requireDescription,
	"videos":      requireVideos,
}

func init() {
	specs, err := parseCatalog(catalogYAML)
	if err != nil {
		panic(err)
	}
	for _, s := range specs {
		RegisterSpec(s)
	}
}

// LoadOverrides replaces registered prompts with the entries of a YAML catalog file.
func LoadOverrides(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read prompt catalog: %w", err)
	}
	specs, err := parseCatalog(raw)
	if err != nil {
		return 0, err
	}
	for _, s := range specs {
		t, err := MakeTemplate(s)
		if err != nil {
			return 0, err
		}
		Register(t)
	}
	return len(specs), nil
}

func parseCatalog(raw []byte) ([]Spec, error) {
	var docs []specDoc
	if err := yaml.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	out := make([]Spec, 0, len(docs))
	for _, d := range docs {
		schema := d.Schema
		if schema == nil {
			return nil, fmt.Errorf("prompt %s: missing schema", d.Name)
		}
		s := Spec{
			Name:       PromptName(d.Name),
			Version:    d.Version,
			SchemaName: d.SchemaName,
			Schema:     func() map[string]any { return copyMap(schema) },
			System:     d.System,
			User:       d.User,
		}
		for _, v := range d.Validators {
			fn, ok := validatorsByName[v]
			if !ok {
				return nil, fmt.Errorf("prompt %s: unknown validator %q", d.Name, v)
			}
			s.Validators = append(s.Validators, fn)
		}
		out = append(out, s)
	}
	return out, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = copyMap(t)
		case []any:
			out[k] = append([]any(nil), t...)
		default:
			out[k] = v
		}
	}
	return out
}
