package prompt

// Defaults returns the built-in prompt set shipped with the service.
// Operators wanting a different catalog construct their own Library with
// NewLibrary instead of calling this.
func Defaults() []Prompt {
	return []Prompt{
		{
			ID:    "review-diff",
			Title: "Review a code diff",
			Body:  "You are reviewing a code change. Identify correctness issues, then style issues, in that order. Cite line numbers.",
		},
		{
			ID:    "explain-error",
			Title: "Explain a runtime error",
			Body:  "Given a stack trace and the surrounding source, explain the root cause in plain language before suggesting a fix.",
		},
		{
			ID:    "write-tests",
			Title: "Write unit tests for a function",
			Body:  "Given a function signature and its intended behavior, write unit tests covering the happy path, boundary values, and at least one error case.",
		},
	}
}
