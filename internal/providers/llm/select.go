package llm

// smallModelMaxPromptChars is the threshold spec.md §4.5 hangs model
// selection off: an optimized system prompt at or under this length stays
// on the fast/cheap tier; a longer one (a heavier script/persona/rules
// mix) promotes to the large-context tier.
const smallModelMaxPromptChars = 10000

// SelectTier reports whether the small (fast, cheap) model tier is
// sufficient for an optimized system prompt of the given length, in
// characters.
func SelectTier(optimizedPromptChars int) (small bool) {
	return optimizedPromptChars <= smallModelMaxPromptChars
}
