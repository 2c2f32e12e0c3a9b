package service

import (
	"regexp"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

var mentionPattern = regexp.MustCompile(`<@(\d{1,19})>`)

// extractMentions returns the distinct user ids mentioned as <@ID>, in order
// of first appearance.
func extractMentions(content string) []snowflake.ID {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[snowflake.ID]struct{}, len(matches))
	ids := make([]snowflake.ID, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		id := snowflake.ID(v)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// newMentions lists ids mentioned in after that were not already in before.
func newMentions(before, after string) []snowflake.ID {
	previous := extractMentions(before)
	if len(previous) == 0 {
		return extractMentions(after)
	}
	known := make(map[snowflake.ID]struct{}, len(previous))
	for _, id := range previous {
		known[id] = struct{}{}
	}
	var added []snowflake.ID
	for _, id := range extractMentions(after) {
		if _, ok := known[id]; !ok {
			added = append(added, id)
		}
	}
	return added
}

func preview(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
