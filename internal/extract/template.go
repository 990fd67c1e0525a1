package extract

import (
	"regexp"
	"sort"
)

// OutputInstructionsVar is the built-in placeholder that expands to the
// schema's output instructions during Run.
const OutputInstructionsVar = "output_instructions"

// placeholderPattern matches ${name} and ${ name }. Dotted names are allowed.
var placeholderPattern = regexp.MustCompile(`\$\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}`)

// PromptTemplate is prompt text with ${name} placeholders.
type PromptTemplate string

// Variables returns the distinct placeholder names, sorted.
func (t PromptTemplate) Variables() []string {
	matches := placeholderPattern.FindAllStringSubmatch(string(t), -1)
	seen := make(map[string]bool)
	var vars []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	sort.Strings(vars)
	return vars
}

// Bind substitutes every placeholder. Substituted values are not scanned
// again, so a parameter containing ${x} stays literal.
func (t PromptTemplate) Bind(params map[string]string) (string, error) {
	var missing []string
	for _, name := range t.Variables() {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", &TemplateBindingError{Missing: missing}
	}

	return placeholderPattern.ReplaceAllStringFunc(string(t), func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return params[name]
	}), nil
}
