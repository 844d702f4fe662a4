package bot

import (
	"strings"
	"unicode/utf8"
)

// maxMessageLength is Discord's limit on message content.
const maxMessageLength = 2000

// ExtractQuery returns the lookup text of a message, and false when the
// message is not addressed to the bot. In direct messages every message is
// addressed to the bot; in guilds only messages starting with prefix or
// mentioning the bot are.
func ExtractQuery(content, prefix, botID string, direct bool) (string, bool) {
	text := strings.TrimSpace(content)

	rest, prefixed := cutPrefix(text, prefix)
	if prefixed {
		text = rest
	}
	stripped, mentioned := stripMentions(text, botID)

	if !direct && !prefixed && !mentioned {
		return "", false
	}
	return strings.TrimSpace(stripped), true
}

// cutPrefix removes a leading command prefix. The prefix must be followed by
// whitespace or the end of the message, so "!jishobot" is not "!jisho".
func cutPrefix(text, prefix string) (string, bool) {
	if prefix == "" {
		return text, false
	}
	rest, ok := strings.CutPrefix(text, prefix)
	if !ok {
		return text, false
	}
	if rest != "" {
		r, _ := utf8.DecodeRuneInString(rest)
		if !isSpace(r) {
			return text, false
		}
	}
	return rest, true
}

func stripMentions(text, botID string) (string, bool) {
	if botID == "" {
		return text, false
	}
	mentioned := false
	for _, m := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		if strings.Contains(text, m) {
			mentioned = true
			text = strings.ReplaceAll(text, m, " ")
		}
	}
	if !mentioned {
		return text, false
	}
	return strings.Join(strings.Fields(text), " "), true
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '　'
}

// ExtractQuoted returns the text between surrounding double quotes and true,
// or the query unchanged and false. Quoted queries are looked up as typed.
func ExtractQuoted(query string) (string, bool) {
	s := strings.TrimSpace(query)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return query, false
}

// truncate cuts s to Discord's message limit, marking the cut with an
// ellipsis.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxMessageLength-1]) + "…"
}
