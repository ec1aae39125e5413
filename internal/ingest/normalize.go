package ingest

import (
	"regexp"
	"strings"
)

// MDX plumbing: frontmatter, module imports/exports, component tags.
var (
	frontmatterRE = regexp.MustCompile(`(?s)^---\s*\n.*?\n---\s*\n`)
	importRE      = regexp.MustCompile(`(?m)^import\s+.*?;?\s*$`)
	exportRE      = regexp.MustCompile(`(?m)^export\s+.*?;?\s*$`)
	jsxOpenRE     = regexp.MustCompile(`(?s)<[A-Z][A-Za-z0-9]*(?:\s[^>]*?)?(?:/>|>)`)
	jsxCloseRE    = regexp.MustCompile(`</[A-Z][A-Za-z0-9]*>`)
	jsxExprRE     = regexp.MustCompile(`\{[^}\n]{0,200}\}`)
	fenceOpenRE   = regexp.MustCompile("```[^\n]*\n")
	blankRunRE    = regexp.MustCompile(`\n{3,}`)
)

// Markdown syntax stripped only by Flatten.
var (
	mdImageRE    = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLinkRE     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	inlineCodeRE = regexp.MustCompile("`([^`\n]+)`")
	boldStarRE   = regexp.MustCompile(`\*{1,3}([^*\n]+)\*{1,3}`)
	boldUnderRE  = regexp.MustCompile(`_{1,3}([^_\n]+)_{1,3}`)
	headingRE    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	htmlTagRE    = regexp.MustCompile(`<[^>]{1,120}>`)
)

// Normalize strips MDX plumbing from a raw document, returning plain Markdown
// text suitable for section splitting. Fence markers are removed but fenced
// code is kept as plain text; a textbook's code samples are worth retrieving.
func Normalize(raw string) string {
	text := frontmatterRE.ReplaceAllString(raw, "")
	text = importRE.ReplaceAllString(text, "")
	text = exportRE.ReplaceAllString(text, "")

	text = fenceOpenRE.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")

	text = jsxOpenRE.ReplaceAllString(text, "")
	text = jsxCloseRE.ReplaceAllString(text, "")
	text = jsxExprRE.ReplaceAllString(text, "")
	text = blankRunRE.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Flatten is the aggressive variant used by the ingestion CLI: everything
// Normalize removes, plus Markdown images, link syntax (link text kept),
// inline code and emphasis markers, heading markers, and any leftover
// bracket-delimited tags.
func Flatten(raw string) string {
	text := frontmatterRE.ReplaceAllString(raw, "")
	text = importRE.ReplaceAllString(text, "")
	text = exportRE.ReplaceAllString(text, "")

	text = fenceOpenRE.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")

	text = jsxOpenRE.ReplaceAllString(text, "")
	text = jsxCloseRE.ReplaceAllString(text, "")
	text = jsxExprRE.ReplaceAllString(text, "")
	text = mdImageRE.ReplaceAllString(text, "")
	text = mdLinkRE.ReplaceAllString(text, "$1")
	text = inlineCodeRE.ReplaceAllString(text, "$1")
	text = boldStarRE.ReplaceAllString(text, "$1")
	text = boldUnderRE.ReplaceAllString(text, "$1")
	text = headingRE.ReplaceAllString(text, "")
	text = htmlTagRE.ReplaceAllString(text, "")
	text = blankRunRE.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
