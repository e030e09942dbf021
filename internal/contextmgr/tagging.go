package contextmgr

import "regexp"

// Archive candidates are tagged by content keywords so retrieval queries can
// filter by topic. Categories match on word boundaries; a message matching
// none of them gets the fallback tag.
const fallbackTag = "general"

var tagCategories = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"technical", regexp.MustCompile(`(?i)\b(code|function|api|bug|error|database|server|deploy|build|test|config)\b`)},
	{"decision", regexp.MustCompile(`(?i)\b(decide|decided|decision|choose|chose|agree|agreed|plan|planned)\b`)},
	{"question", regexp.MustCompile(`(?i)\b(who|what|when|where|why|how|which)\b`)},
	{"preference", regexp.MustCompile(`(?i)\b(prefer|preferred|like|love|hate|favorite|want|need)\b`)},
	{"temporal", regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday|deadline|schedule|meeting)\b`)},
}

// categorizeTags returns every matching category tag for the text, or
// [fallbackTag] when nothing matches.
func categorizeTags(text string) []string {
	var tags []string
	for _, cat := range tagCategories {
		if cat.re.MatchString(text) {
			tags = append(tags, cat.tag)
		}
	}
	if len(tags) == 0 {
		tags = []string{fallbackTag}
	}
	return tags
}
