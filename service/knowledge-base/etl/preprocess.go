package etl

import (
	"regexp"
	"strings"

	"knowledge-base-backend/model"
)

const (
	RuleRemoveExtraSpaces = "remove_extra_spaces"
	RuleRemoveURLsEmails  = "remove_urls_emails"
)

var (
	extraNewlinesRegex = regexp.MustCompile(`\n{3,}`)
	extraSpacesRegex   = regexp.MustCompile(`[\t\f\r \x{00a0}\x{1680}\x{180e}\x{2000}-\x{200a}\x{202f}\x{205f}\x{3000}]{2,}`)
	emailRegex         = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	urlRegex           = regexp.MustCompile(`https?://[^\s]+`)
)

// BuildCleaner 根据启用的规则组合预处理函数，没有启用的规则时返回 nil
func BuildCleaner(rules []model.PreProcessRule) func(string) string {
	var steps []func(string) string
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		switch normalizeRuleID(rule.ID) {
		case RuleRemoveExtraSpaces:
			steps = append(steps, removeExtraSpaces)
		case RuleRemoveURLsEmails:
			steps = append(steps, removeURLsEmails)
		}
	}
	if len(steps) == 0 {
		return nil
	}

	return func(text string) string {
		for _, step := range steps {
			text = step(text)
		}
		return text
	}
}

func normalizeRuleID(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), "-", "_")
}

func removeExtraSpaces(text string) string {
	text = extraNewlinesRegex.ReplaceAllString(text, "\n\n")
	return extraSpacesRegex.ReplaceAllString(text, " ")
}

func removeURLsEmails(text string) string {
	text = emailRegex.ReplaceAllString(text, "")
	return urlRegex.ReplaceAllString(text, "")
}
