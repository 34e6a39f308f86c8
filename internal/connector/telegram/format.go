package telegram

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

// Telegram limits, in UTF-16 code units of visible text.
const (
	maxMessageLen = 4096
	maxCaptionLen = 1024
)

var (
	reInlineCode = regexp.MustCompile("`([^`\n]+)`")
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	reBold       = regexp.MustCompile(`\*\*([^*]+?)\*\*`)
	reItalic     = regexp.MustCompile(`\*([^*\s](?:[^*]*[^*\s])?)\*`)
)

// MarkdownToTelegramHTML renders the Markdown the relay writes (bold,
// italic, inline and fenced code, links including tg://user mentions) as
// Telegram HTML. Everything else is escaped.
func MarkdownToTelegramHTML(md string) string {
	var parts []string
	for _, seg := range splitFences(md) {
		if seg.code {
			open := "<pre><code>"
			if seg.lang != "" {
				open = `<pre><code class="language-` + escapeAttr(seg.lang) + `">`
			}
			parts = append(parts, open+escapeHTML(seg.text)+"</code></pre>")
			continue
		}
		parts = append(parts, replaceSpans(seg.text, reInlineCode, func(g []string) string {
			return "<code>" + escapeHTML(g[1]) + "</code>"
		}, htmlLinks))
	}
	return joinSegments(parts)
}

// StripMarkdown removes the formatting MarkdownToTelegramHTML understands.
// Links become "text (url)"; user mentions keep only the name.
func StripMarkdown(md string) string {
	var parts []string
	for _, seg := range splitFences(md) {
		if seg.code {
			parts = append(parts, seg.text)
			continue
		}
		parts = append(parts, replaceSpans(seg.text, reInlineCode, func(g []string) string {
			return g[1]
		}, plainLinks))
	}
	return joinSegments(parts)
}

func htmlLinks(s string) string {
	return replaceSpans(s, reLink, func(g []string) string {
		return `<a href="` + escapeAttr(g[2]) + `">` + htmlEmphasis(g[1]) + "</a>"
	}, htmlEmphasis)
}

func htmlEmphasis(s string) string {
	s = escapeHTML(s)
	s = reBold.ReplaceAllString(s, "<b>$1</b>")
	return reItalic.ReplaceAllString(s, "<i>$1</i>")
}

func plainLinks(s string) string {
	return replaceSpans(s, reLink, func(g []string) string {
		label := plainEmphasis(g[1])
		if strings.HasPrefix(g[2], "tg://") {
			return label
		}
		return label + " (" + g[2] + ")"
	}, plainEmphasis)
}

func plainEmphasis(s string) string {
	s = reBold.ReplaceAllString(s, "$1")
	return reItalic.ReplaceAllString(s, "$1")
}

type segment struct {
	code bool
	lang string
	text string
}

// splitFences cuts md at ``` lines. An unterminated fence runs to the end.
func splitFences(md string) []segment {
	var (
		segs []segment
		cur  segment
		buf  []string
	)
	flush := func() {
		cur.text = strings.Join(buf, "\n")
		segs = append(segs, cur)
		buf = nil
	}
	for _, line := range strings.Split(md, "\n") {
		rest, ok := strings.CutPrefix(line, "```")
		if !ok {
			buf = append(buf, line)
			continue
		}
		flush()
		if cur.code {
			cur = segment{}
		} else {
			cur = segment{code: true, lang: strings.TrimSpace(rest)}
		}
	}
	flush()
	return segs
}

// joinSegments puts rendered segments on separate lines, dropping the empty
// text around fences at the edges.
func joinSegments(parts []string) string {
	for len(parts) > 1 && parts[0] == "" {
		parts = parts[1:]
	}
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "\n")
}

// replaceSpans renders each match of re with match and the text between
// matches with plain.
func replaceSpans(s string, re *regexp.Regexp, match func(groups []string) string, plain func(string) string) string {
	var out strings.Builder
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(s, -1) {
		out.WriteString(plain(s[last:loc[0]]))
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = s[loc[2*i]:loc[2*i+1]]
			}
		}
		out.WriteString(match(groups))
		last = loc[1]
	}
	out.WriteString(plain(s[last:]))
	return out.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func escapeAttr(s string) string {
	return strings.ReplaceAll(escapeHTML(s), `"`, "&quot;")
}

// utf16Len is the length Telegram counts.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// truncateUTF16 shortens s to at most max UTF-16 units, marking the cut with "…".
func truncateUTF16(s string, max int) string {
	if utf16Len(s) <= max {
		return s
	}
	n := 0
	for i, r := range s {
		w := utf16.RuneLen(r)
		if n+w > max-1 {
			return s[:i] + "…"
		}
		n += w
	}
	return s
}
