// Package prompt rewrites agent system prompts so a scripted conversation
// flow always survives truncation ahead of persona and rule text, and
// injects a per-turn flow-state instruction block ahead of the LLM call.
package prompt

import (
	"fmt"
	"strings"
)

const (
	maxScriptBytes  = 16 * 1024
	maxPersonaBytes = 4 * 1024
	maxRuleBytes    = 6 * 1024
	maxPromptBytes  = 32 * 1024
)

var scriptMarkers = []string{"FLUJO", "SCRIPT", "PASO 1", "CONVERSACIÓN", "GUIÓN"}
var ruleMarkers = []string{"IMPORTANTE", "RESTRICCIONES", "REGLAS", "NUNCA", "PROHIBIDO"}

// Optimize reorders prompt as [SCRIPT] [PERSONA] [RULES] when a script
// marker is found, truncating each section to its byte budget. When no
// script marker is present, it falls back to a flat 32KB truncation with a
// trailing ellipsis marker.
func Optimize(raw string) string {
	scriptIdx := firstMarkerIndex(raw, scriptMarkers)
	if scriptIdx < 0 {
		return truncateFlat(raw, maxPromptBytes)
	}

	ruleIdx := firstMarkerIndex(raw, ruleMarkers)

	script, persona, rules := splitSections(raw, scriptIdx, ruleIdx)

	var b strings.Builder
	b.WriteString("[SCRIPT] ")
	b.WriteString(truncateFlat(script, maxScriptBytes))
	b.WriteString(" [PERSONA] ")
	b.WriteString(truncateFlat(persona, maxPersonaBytes))
	b.WriteString(" [RULES] ")
	b.WriteString(truncateFlat(rules, maxRuleBytes))
	return b.String()
}

// splitSections partitions raw into (script, persona, rules) given the byte
// offsets of the first script marker and first rule marker (ruleIdx may be
// -1 if no rule marker was found). persona is whatever falls outside the
// script and rule sections, preserving original order.
func splitSections(raw string, scriptIdx, ruleIdx int) (script, persona, rules string) {
	if ruleIdx < 0 {
		// No rules section: everything before the script marker is persona,
		// everything from the marker onward is script.
		return raw[scriptIdx:], raw[:scriptIdx], ""
	}

	if ruleIdx < scriptIdx {
		// Rules appear before the script in the source; script runs from
		// its marker to the end, persona is whatever precedes the rules,
		// and rules run from the rule marker to the script marker.
		return raw[scriptIdx:], raw[:ruleIdx], raw[ruleIdx:scriptIdx]
	}

	// Script appears before rules: script runs up to the rule marker,
	// persona is whatever precedes the script, rules run to the end.
	return raw[scriptIdx:ruleIdx], raw[:scriptIdx], raw[ruleIdx:]
}

func firstMarkerIndex(s string, markers []string) int {
	upper := strings.ToUpper(s)
	best := -1
	for _, m := range markers {
		if idx := strings.Index(upper, m); idx >= 0 {
			if best < 0 || idx < best {
				best = idx
			}
		}
	}
	return best
}

func truncateFlat(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

// FlowState returns the flow-state instruction block prepended ahead of the
// optimized prompt, given the number of user messages so far (turnCount)
// and the most recent user utterance. Turn 0 emits nothing — the greeting
// already covers the opening of the call.
func FlowState(turnCount int, lastUserMessage string) string {
	switch {
	case turnCount <= 0:
		return ""
	case turnCount == 1:
		return fmt.Sprintf(
			"This is turn 1. The customer said: %q. Advance to the next script step. Do not repeat the greeting.",
			lastUserMessage,
		)
	case turnCount == 2:
		return fmt.Sprintf(
			"This is turn 2. The customer said: %q. Continue advancing the script from where it left off. Do not repeat the greeting or earlier script steps.",
			lastUserMessage,
		)
	default:
		return fmt.Sprintf(
			"This is turn %d. The customer said: %q. Keep advancing the script naturally, do not repeat the greeting or any previously completed script step.",
			turnCount, lastUserMessage,
		)
	}
}
