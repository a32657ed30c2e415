package extract

import "regexp"

// urlPattern matches from an http:// or https:// prefix up to the next
// whitespace character.
var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// URLs returns every URL-shaped substring of text in order of appearance.
// Duplicates are preserved; downstream stages decide whether to dedupe.
// Input with no matches yields an empty result, never an error.
func URLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}
