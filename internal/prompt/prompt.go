package prompt

import (
	"strings"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/scrape"
)

// Join filters results to successful non-empty contents and joins them
// with a double line break, preserving input order.
func Join(results []scrape.Result) string {
	contents := make([]string, 0, len(results))
	for _, result := range results {
		if !result.OK || result.Content == "" {
			continue
		}
		contents = append(contents, result.Content)
	}
	return strings.Join(contents, "\n\n")
}

// Render wraps the original request in the generation template. The
// separator and the "Question: " label are load-bearing: existing
// consumers expect exactly this shape. An empty context returns the
// original text unchanged.
func Render(context string, original string) string {
	if context == "" {
		return original
	}
	return "Context:\n" + context + "\n\nQuestion: " + original
}

// Compose merges scraped context with the original request into a single
// generation prompt.
func Compose(original string, results []scrape.Result) string {
	return Render(Join(results), original)
}
