package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
	"time"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// RemoveURLs removes all URLs from the input text.
func RemoveURLs(input string) string {
	return urlRegex.ReplaceAllString(input, " ")
}

// CleanText strips HTML entities, punctuation, squeezes whitespace, and removes URLs.
// It is meant for short metadata fields such as press or journalist names.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = RemoveURLs(decoded)
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	decoded = strings.TrimSpace(decoded)
	return decoded
}

// SqueezeSpace unescapes HTML entities and collapses whitespace runs while
// keeping punctuation, so article bodies stay readable in prompts.
func SqueezeSpace(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// ContentKey hashes the fields that define an article revision. Two upserts
// with the same key would write identical rows.
func ContentKey(url, title, content string, date time.Time) string {
	s := sha1.Sum([]byte(url + "|" + title + "|" + content + "|" + date.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(s[:])
}

// GenerateTitleFromText creates a title from the first sentence or first N words of text.
// Returns empty string if text is empty.
func GenerateTitleFromText(text string, maxWords int) string {
	if text == "" {
		return ""
	}

	textWithoutURLs := RemoveURLs(text)

	sentenceEnd := strings.IndexAny(textWithoutURLs, ".!?")
	var firstSentence string
	if sentenceEnd > 0 {
		firstSentence = strings.TrimSpace(textWithoutURLs[:sentenceEnd])
	} else {
		firstSentence = textWithoutURLs
	}

	words := strings.Fields(firstSentence)
	if len(words) == 0 {
		return ""
	}

	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
		return strings.Join(words, " ") + "..."
	}

	return strings.Join(words, " ")
}

// ParseTimestamp accepts the layouts crawlers emit and returns the zero time
// for anything else.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006.01.02 15:04",
		"2006-01-02",
	}

	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts
		}
	}

	return time.Time{}
}
