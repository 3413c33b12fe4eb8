// Package filing cleans raw SEC EDGAR submissions into plain prose suitable
// for chunking. A full-text submission bundles multiple <DOCUMENT> sections
// (the report itself, exhibits, XBRL instance data); only the annual report
// body is worth retrieving over.
package filing

import (
	"html"
	"regexp"
	"strings"
)

var (
	documentRe = regexp.MustCompile(`(?s)<DOCUMENT>(.*?)</DOCUMENT>`)
	typeRe     = regexp.MustCompile(`<TYPE>([^\s<]+)`)
	xbrlRe     = regexp.MustCompile(`(?si)<XBRL[^>]*>.*?</XBRL>`)
	scriptRe   = regexp.MustCompile(`(?si)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	tagRe      = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe    = regexp.MustCompile(`[ \t\x{00a0}]+`)
	blankRe    = regexp.MustCompile(`\n{3,}`)

	itemStartRe = regexp.MustCompile(`(?i)item[\s\x{00a0}]+1\b`)
	itemEndRe   = regexp.MustCompile(`(?i)item[\s\x{00a0}]+15\b`)
	signatureRe = regexp.MustCompile(`(?i)\bsignatures?\b`)
)

// cropFloor is the minimum size a cropped body must keep. Crops below it are
// assumed to have matched the wrong landmark and are reverted.
const cropFloor = 2000

// Clean extracts the report body from a raw submission, strips markup, and
// crops front matter and trailing exhibits. It never returns markup, and it
// degrades to whitespace normalization when the landmarks are missing.
func Clean(raw string) string {
	body := selectDocument(raw)
	body = stripMarkup(body)
	body = normalizeWhitespace(body)
	return cropToItems(body)
}

// selectDocument picks the 10-K section out of a multi-document submission.
// Plain HTML or text input passes through unchanged.
func selectDocument(raw string) string {
	matches := documentRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw
	}
	for _, m := range matches {
		if t := typeRe.FindStringSubmatch(m[1]); t != nil && strings.HasPrefix(t[1], "10-K") {
			return m[1]
		}
	}
	return matches[0][1]
}

func stripMarkup(body string) string {
	body = xbrlRe.ReplaceAllString(body, " ")
	body = scriptRe.ReplaceAllString(body, " ")
	body = tagRe.ReplaceAllString(body, " ")
	return html.UnescapeString(body)
}

func normalizeWhitespace(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = spaceRe.ReplaceAllString(body, " ")
	lines := strings.Split(body, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	body = strings.Join(lines, "\n")
	body = blankRe.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

// cropToItems cuts from the second "Item 1" occurrence (the first sits in the
// table of contents) to "Item 15" or the signature block, whichever lands
// first after the start.
func cropToItems(body string) string {
	starts := itemStartRe.FindAllStringIndex(body, -1)
	if len(starts) < 2 {
		return body
	}
	start := starts[1][0]

	end := len(body)
	if loc := itemEndRe.FindStringIndex(body[start:]); loc != nil {
		end = start + loc[0]
	} else if loc := signatureRe.FindStringIndex(body[start:]); loc != nil {
		end = start + loc[0]
	}
	if end <= start {
		return body
	}

	cropped := strings.TrimSpace(body[start:end])
	if len(cropped) < cropFloor && len(body) >= cropFloor {
		return body
	}
	return cropped
}
