package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

const defaultTitleNew = "New chat"

// titleFromMessages derives a title from the first user message.
func (s *ChatService) titleFromMessages(msgs []domain.Message) string {
	for _, m := range msgs {
		if m.Role == domain.RoleUser {
			return s.generateTitle(m.Content)
		}
	}
	return ""
}

// generateTitle builds a compact title-cased title of up to 8 words,
// skipping stop-words.
func (s *ChatService) generateTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	toks := titleWordRE.FindAllString(strings.ToLower(prompt), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.titleLocale())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	return strings.Join(out, " ")
}

// clip truncates a title to the configured maximum rune length.
func (s *ChatService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

func (s *ChatService) titleLocale() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// normalizeTitle trims whitespace and collapses runs of spaces.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	// Letters with optional trailing digits (e.g. "gwi2025").
	titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)
)

var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"me": {}, "give": {}, "please": {}, "i": {}, "my": {},
}
