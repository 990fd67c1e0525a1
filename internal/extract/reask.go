package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxEchoedOutput bounds how much of the previous reply a reask prompt repeats.
const maxEchoedOutput = 12000

// reaskPrompt builds the correction prompt for the next attempt. It always
// starts from the originally bound prompt so prompts do not grow across
// attempts.
func reaskPrompt(original, previous string, failures []FieldFailure) string {
	previous = strings.TrimSpace(previous)
	if previous == "" {
		previous = "(empty response)"
	}
	if len(previous) > maxEchoedOutput {
		cut := maxEchoedOutput
		for cut > 0 && !utf8.RuneStart(previous[cut]) {
			cut--
		}
		previous = previous[:cut] + "\n...[truncated]"
	}

	var issues strings.Builder
	for _, f := range failures {
		fmt.Fprintf(&issues, "- %s\n", f)
	}

	return fmt.Sprintf(`%s

Your previous response was:
%s

It failed validation:
%s
Correct these problems and return ONLY valid JSON (no markdown, no commentary).`,
		strings.TrimRight(original, "\n"), previous, issues.String())
}
