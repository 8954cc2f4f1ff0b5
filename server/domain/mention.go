package domain

import (
	"regexp"
	"strings"
)

// AI personas that can be mentioned in a message.
const (
	AITypeWayne      = "wayneAI"
	AITypeConsulting = "consultingAI"
)

var mentionPattern = regexp.MustCompile(`@(wayneAI|consultingAI)\b`)

// ExtractAIMentions returns the distinct AI types mentioned in content,
// in first-appearance order.
func ExtractAIMentions(content string) []string {
	if content == "" {
		return nil
	}
	seen := make(map[string]bool)
	var mentions []string
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			mentions = append(mentions, m[1])
		}
	}
	return mentions
}

// StripMention removes every occurrence of the given mention from content,
// yielding the query handed to the producer.
func StripMention(content, aiType string) string {
	re := regexp.MustCompile(`@` + regexp.QuoteMeta(aiType) + `\b`)
	return strings.TrimSpace(re.ReplaceAllString(content, ""))
}
