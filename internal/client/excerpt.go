package client

// ExcerptLimit is how many characters a message preview shows before the
// "Read More" affordance.
const ExcerptLimit = 250

// Excerpt returns the first limit characters of content and whether any were
// cut. It counts runes so multi-byte text is never split mid-character.
func Excerpt(content string, limit int) (string, bool) {
	if limit <= 0 {
		return "", content != ""
	}
	count := 0
	for i := range content {
		if count == limit {
			return content[:i], true
		}
		count++
	}
	return content, false
}
