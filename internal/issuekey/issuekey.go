package issuekey

import (
	"regexp"
	"sort"
	"strings"
)

var keyRe = regexp.MustCompile(`\b([A-Z]{2,10}-\d+)\b`)

var branchPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|/)feature/([A-Z]{2,10}-\d+)`),
	regexp.MustCompile(`(?:^|/)bugfix/([A-Z]{2,10}-\d+)`),
	regexp.MustCompile(`(?:^|/)hotfix/([A-Z]{2,10}-\d+)`),
	regexp.MustCompile(`\b([A-Z]{2,10}-\d+)[-_]`),
	regexp.MustCompile(`\b([A-Z]{2,10}-\d+)$`),
}

// Extract returns the distinct issue keys ("AUTH-123") found in text, in
// order of first appearance.
func Extract(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, m := range keyRe.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

// FromBranch returns the issue key embedded in a source branch name.
// Branch names are often lower-cased ("bugfix/auth-123"), so matching is
// done on the upper-cased name.
func FromBranch(branch string) string {
	branch = strings.ToUpper(strings.TrimSpace(branch))
	if branch == "" {
		return ""
	}
	// Prefixes are matched lower-case in the patterns above.
	lowered := strings.NewReplacer("FEATURE/", "feature/", "BUGFIX/", "bugfix/", "HOTFIX/", "hotfix/").Replace(branch)
	for _, re := range branchPatterns {
		if m := re.FindStringSubmatch(lowered); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

// Normalize upper-cases and trims a key; it returns "" for anything that is
// not a well-formed key.
func Normalize(key string) string {
	key = strings.ToUpper(strings.TrimSpace(key))
	if !keyRe.MatchString(key) || keyRe.FindString(key) != key {
		return ""
	}
	return key
}

// Merge unions key lists, normalizing and sorting the result.
func Merge(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, k := range list {
			k = Normalize(k)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// FromID returns the issue key an item identifier carries, either whole
// ("AUTH-123") or after a source prefix ("jira:AUTH-123", "tickets/AUTH-123").
func FromID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndexAny(id, ":/"); i >= 0 {
		id = id[i+1:]
	}
	return Normalize(id)
}
