package llm

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

type PromptName string

const (
	PromptChannelName   PromptName = "channel_name"
	PromptSearchQueries PromptName = "search_queries"
	PromptSelectVideos  PromptName = "select_videos"
	PromptOrderPlaylist PromptName = "order_playlist"
)

// Input is the union of fields any prompt renders. Missing fields render empty.
type Input struct {
	Description string
	ChannelName string
	// VideosJSON is a JSON array of {id, title, description, channelTitle, deleted}.
	VideosJSON string
	MinQueries int
	MaxQueries int
}

type Validator func(Input) error

// Spec is the declaration format; System and User are text/template bodies over Input.
type Spec struct {
	Name       PromptName
	Version    int
	SchemaName string
	Schema     func() map[string]any
	System     string
	User       string
	Validators []Validator
}

type Template struct {
	Name       PromptName
	Version    int
	SchemaName string
	Schema     func() map[string]any
	System     func(Input) string
	User       func(Input) string
	Validate   Validator
}

// Prompt is a rendered template, ready to become a Request.
type Prompt struct {
	Name       string
	Version    int
	SchemaName string
	Schema     map[string]any
	System     string
	User       string
}

func (p Prompt) Request(model string) Request {
	return Request{
		System:     p.System,
		User:       p.User,
		SchemaName: p.SchemaName,
		Schema:     p.Schema,
		Model:      model,
	}
}

var registry = map[PromptName]Template{}

func Register(t Template) {
	registry[t.Name] = t
}

func MakeTemplate(s Spec) (Template, error) {
	if strings.TrimSpace(string(s.Name)) == "" {
		return Template{}, fmt.Errorf("missing prompt name")
	}
	if s.Version <= 0 {
		return Template{}, fmt.Errorf("invalid version for %s", s.Name)
	}
	if strings.TrimSpace(s.SchemaName) == "" || s.Schema == nil {
		return Template{}, fmt.Errorf("missing schema for %s", s.Name)
	}
	sysT, err := template.New("system").Option("missingkey=zero").Parse(s.System)
	if err != nil {
		return Template{}, fmt.Errorf("%s system template parse: %w", s.Name, err)
	}
	userT, err := template.New("user").Option("missingkey=zero").Parse(s.User)
	if err != nil {
		return Template{}, fmt.Errorf("%s user template parse: %w", s.Name, err)
	}
	render := func(t *template.Template, in Input) string {
		var b bytes.Buffer
		_ = t.Execute(&b, in)
		return strings.TrimSpace(b.String())
	}
	tt := Template{
		Name:       s.Name,
		Version:    s.Version,
		SchemaName: s.SchemaName,
		Schema:     s.Schema,
		System:     func(in Input) string { return render(sysT, in) },
		User:       func(in Input) string { return render(userT, in) },
	}
	if len(s.Validators) > 0 {
		validators := s.Validators
		tt.Validate = func(in Input) error {
			for _, v := range validators {
				if v == nil {
					continue
				}
				if err := v(in); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return tt, nil
}

func RegisterSpec(s Spec) {
	t, err := MakeTemplate(s)
	if err != nil {
		panic(err)
	}
	Register(t)
}

// Build renders a registered prompt.
func Build(name PromptName, in Input) (Prompt, error) {
	t, ok := registry[name]
	if !ok {
		return Prompt{}, fmt.Errorf("unknown prompt: %s", string(name))
	}
	if t.Validate != nil {
		if err := t.Validate(in); err != nil {
			return Prompt{}, fmt.Errorf("%s: %w", string(name), err)
		}
	}
	return Prompt{
		Name:       string(t.Name),
		Version:    t.Version,
		SchemaName: strings.TrimSpace(t.SchemaName),
		Schema:     t.Schema(),
		System:     applyStyle(t.System(in)),
		User:       strings.TrimSpace(t.User(in)),
	}, nil
}

const styleMarker = "WHYTV_PROMPT_STYLE_V1"

// applyStyle prepends the shared output guidance once.
func applyStyle(system string) string {
	base := strings.TrimSpace(system)
	if base == "" || strings.Contains(base, styleMarker) {
		return base
	}
	var b strings.Builder
	b.WriteString(styleMarker)
	b.WriteString("\nYou curate YouTube playlists for whytv.ai channels.")
	b.WriteString("\nIf an output schema is specified, return a single JSON object that conforms to it and nothing else.")
	b.WriteString("\nDo not add commentary.")
	b.WriteString("\n---\n")
	b.WriteString(base)
	return b.String()
}

func requireDescription(in Input) error {
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("missing Description")
	}
	return nil
}

func requireVideos(in Input) error {
	if strings.TrimSpace(in.VideosJSON) == "" {
		return fmt.Errorf("missing VideosJSON")
	}
	return nil
}
