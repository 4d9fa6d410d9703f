package llm

import (
	"encoding/json"
	"strings"
)

// Parser extracts a T from a Result. Parsers are total: they report failure with ok=false
// and never panic on malformed provider output.
type Parser[T any] func(Result) (T, bool)

// FirstOf tries each parser in order and returns the first success.
func FirstOf[T any](parsers ...Parser[T]) Parser[T] {
	return func(r Result) (T, bool) {
		for _, p := range parsers {
			if p == nil {
				continue
			}
			if v, ok := p(r); ok {
				return v, true
			}
		}
		var zero T
		return zero, false
	}
}

// Strings is the structured -> JSON text -> line split chain for list answers.
func Strings(key string) Parser[[]string] {
	return FirstOf(StructuredStrings(key), JSONTextStrings(key), LineStrings())
}

// Text is the same chain for single-string answers.
func Text(key string) Parser[string] {
	return FirstOf(StructuredString(key), JSONTextString(key), FirstLine())
}

// StructuredStrings reads Structured[key] when it is an array of strings.
func StructuredStrings(key string) Parser[[]string] {
	return func(r Result) ([]string, bool) {
		if r.Structured == nil {
			return nil, false
		}
		return stringList(r.Structured[key])
	}
}

// JSONTextStrings parses RawText as JSON, accepting {key: [...]}, a bare array, or an object
// whose only array value is a string list under some other key.
func JSONTextStrings(key string) Parser[[]string] {
	return func(r Result) ([]string, bool) {
		v, ok := decodeJSONText(r.RawText)
		if !ok {
			return nil, false
		}
		m, isMap := v.(map[string]any)
		if !isMap {
			return stringList(v)
		}
		if list, ok := stringList(m[key]); ok {
			return list, true
		}
		return soleArray(m)
	}
}

func soleArray(m map[string]any) ([]string, bool) {
	var found any
	for _, v := range m {
		switch v.(type) {
		case []any, []string:
			if found != nil {
				return nil, false
			}
			found = v
		}
	}
	if found == nil {
		return nil, false
	}
	return stringList(found)
}

// LineStrings splits RawText on newlines and strips quotes, bullets and separators.
func LineStrings() Parser[[]string] {
	return func(r Result) ([]string, bool) {
		out := make([]string, 0)
		for _, line := range strings.Split(r.RawText, "\n") {
			if s := cleanToken(line); s != "" {
				out = append(out, s)
			}
		}
		return out, len(out) > 0
	}
}

func StructuredString(key string) Parser[string] {
	return func(r Result) (string, bool) {
		if r.Structured == nil {
			return "", false
		}
		s, ok := r.Structured[key].(string)
		s = cleanToken(s)
		return s, ok && s != ""
	}
}

func JSONTextString(key string) Parser[string] {
	return func(r Result) (string, bool) {
		v, ok := decodeJSONText(r.RawText)
		if !ok {
			return "", false
		}
		var s string
		switch t := v.(type) {
		case map[string]any:
			s, _ = t[key].(string)
		case string:
			s = t
		}
		s = cleanToken(s)
		return s, s != ""
	}
}

// FirstLine returns the first non-empty cleaned line of RawText.
func FirstLine() Parser[string] {
	return func(r Result) (string, bool) {
		for _, line := range strings.Split(r.RawText, "\n") {
			if s := cleanToken(line); s != "" {
				return s, true
			}
		}
		return "", false
	}
}

func stringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return compact(t), true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return compact(out), true
	}
	return nil, false
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// decodeJSONText unmarshals text, tolerating markdown code fences and prose around the
// outermost JSON value.
func decodeJSONText(text string) (any, bool) {
	text = strings.TrimSpace(stripFences(text))
	if text == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v, true
	}
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])
		if start < 0 || end <= start {
			continue
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(t), "```")
}

func cleanToken(s string) string {
	s = strings.TrimSpace(s)
	switch s {
	case "", "[", "]", "{", "}", "```":
		return ""
	}
	if strings.HasPrefix(s, "```") {
		return ""
	}
	s = strings.TrimLeft(s, "-*• \t")
	s = trimNumbering(s)
	s = strings.TrimRight(s, ",;")
	s = strings.Trim(s, "\"'`“”‘’ \t")
	return strings.TrimSpace(s)
}

// trimNumbering drops a leading "1." or "12)" list marker.
func trimNumbering(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) || (s[i] != '.' && s[i] != ')') {
		return s
	}
	return strings.TrimSpace(s[i+1:])
}
