package util

import (
	"strings"
	"sync"
	"text/template"
)

// templates caches parsed instructions; agents render the same few prompts
// on every model step.
var templates sync.Map // map[string]*template.Template

var funcs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// RenderTemplate renders an agent instruction as a text/template over data.
// Text without template markers is returned unchanged. Unknown keys render
// as empty strings.
func RenderTemplate(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := parse(text)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}

	return strings.ReplaceAll(sb.String(), "<no value>", ""), nil
}

func parse(text string) (*template.Template, error) {
	if cached, ok := templates.Load(text); ok {
		return cached.(*template.Template), nil
	}

	tmpl, err := template.New("instruction").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, err
	}

	actual, _ := templates.LoadOrStore(text, tmpl)

	return actual.(*template.Template), nil
}
