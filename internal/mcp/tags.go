package mcp

import (
	"sort"
	"strings"
	"unicode"
)

// abbreviations maps common tool-name words to the short forms users type.
var abbreviations = map[string]string{
	"administrator": "admin",
	"application":   "app",
	"command":       "cmd",
	"configuration": "config",
	"database":      "db",
	"delete":        "del",
	"description":   "desc",
	"directory":     "dir",
	"document":      "doc",
	"environment":   "env",
	"information":   "info",
	"kubernetes":    "k8s",
	"management":    "mgmt",
	"message":       "msg",
	"number":        "num",
	"organization":  "org",
	"repository":    "repo",
	"subscription":  "sub",
}

// GenerateTags derives search tags from a tool name: the split words,
// their abbreviations, vowel-stripped forms, plural/singular variants, and
// the compound first-letter form. The literal name never appears as a tag.
func GenerateTags(name string) []string {
	words := splitName(name)
	if len(words) == 0 {
		return nil
	}
	literal := strings.ToLower(name)

	set := make(map[string]struct{})
	add := func(tag string) {
		tag = strings.ToLower(tag)
		if len(tag) < 2 || tag == literal {
			return
		}
		set[tag] = struct{}{}
	}

	var initials strings.Builder
	for _, w := range words {
		add(w)
		if abbr, ok := abbreviations[w]; ok {
			add(abbr)
		}
		if stripped := stripVowels(w); len(stripped) >= 2 && stripped != w {
			add(stripped)
		}
		if strings.HasSuffix(w, "s") && len(w) > 3 {
			singular := strings.TrimSuffix(w, "s")
			add(singular)
			if abbr, ok := abbreviations[singular]; ok {
				add(abbr)
			}
		} else {
			add(w + "s")
		}
		initials.WriteByte(w[0])
	}
	if len(words) > 1 {
		add(initials.String())
	}

	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// splitName breaks a tool name across snake, kebab, and camel boundaries.
func splitName(name string) []string {
	name = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)

	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]) {
			b.WriteByte(' ')
		}
		b.WriteRune(unicode.ToLower(r))
	}

	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// stripVowels keeps the leading character and drops interior vowels.
func stripVowels(word string) string {
	if len(word) < 3 {
		return word
	}
	var b strings.Builder
	b.WriteByte(word[0])
	for i := 1; i < len(word); i++ {
		switch word[i] {
		case 'a', 'e', 'i', 'o', 'u':
		default:
			b.WriteByte(word[i])
		}
	}
	return b.String()
}
