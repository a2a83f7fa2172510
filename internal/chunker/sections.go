package chunker

import (
	"regexp"
	"sort"
	"strings"
)

// sectionPattern pairs a 10-K item header regex with its normalized label.
// Matching is case-insensitive and tolerates "Item 1A." vs "ITEM 1A"
// numbering variants.
type sectionPattern struct {
	re    *regexp.Regexp
	label string
}

var sectionPatterns = []sectionPattern{
	{re: regexp.MustCompile(`(?i)ITEM\s+1[.\s]+BUSINESS`), label: "Item 1 - Business"},
	{re: regexp.MustCompile(`(?i)ITEM\s+1A[.\s]+RISK\s+FACTORS`), label: "Item 1A - Risk Factors"},
	{re: regexp.MustCompile(`(?i)ITEM\s+1B[.\s]+UNRESOLVED\s+STAFF\s+COMMENTS`), label: "Item 1B - Unresolved Staff Comments"},
	{re: regexp.MustCompile(`(?i)ITEM\s+2[.\s]+PROPERTIES`), label: "Item 2 - Properties"},
	{re: regexp.MustCompile(`(?i)ITEM\s+3[.\s]+LEGAL\s+PROCEEDINGS`), label: "Item 3 - Legal Proceedings"},
	{re: regexp.MustCompile(`(?i)ITEM\s+4[.\s]+MINE\s+SAFETY`), label: "Item 4 - Mine Safety Disclosures"},
	{re: regexp.MustCompile(`(?i)ITEM\s+5[.\s]+MARKET\s+FOR`), label: "Item 5 - Market for Registrant"},
	{re: regexp.MustCompile(`(?i)ITEM\s+6[.\s]+SELECTED\s+FINANCIAL`), label: "Item 6 - Selected Financial Data"},
	{re: regexp.MustCompile(`(?i)ITEM\s+7[.\s]+MANAGEMENT.?S\s+DISCUSSION`), label: "Item 7 - MD&A"},
	{re: regexp.MustCompile(`(?i)ITEM\s+7A[.\s]+QUANTITATIVE\s+AND\s+QUALITATIVE`), label: "Item 7A - Market Risk"},
	{re: regexp.MustCompile(`(?i)ITEM\s+8[.\s]+FINANCIAL\s+STATEMENTS`), label: "Item 8 - Financial Statements"},
	{re: regexp.MustCompile(`(?i)ITEM\s+9[.\s]+CHANGES\s+IN\s+AND\s+DISAGREEMENTS`), label: "Item 9 - Disagreements"},
	{re: regexp.MustCompile(`(?i)ITEM\s+9A[.\s]+CONTROLS\s+AND\s+PROCEDURES`), label: "Item 9A - Controls and Procedures"},
	{re: regexp.MustCompile(`(?i)ITEM\s+9B[.\s]+OTHER\s+INFORMATION`), label: "Item 9B - Other Information"},
	{re: regexp.MustCompile(`(?i)ITEM\s+10[.\s]+DIRECTORS`), label: "Item 10 - Directors and Officers"},
	{re: regexp.MustCompile(`(?i)ITEM\s+11[.\s]+EXECUTIVE\s+COMPENSATION`), label: "Item 11 - Executive Compensation"},
	{re: regexp.MustCompile(`(?i)ITEM\s+12[.\s]+SECURITY\s+OWNERSHIP`), label: "Item 12 - Security Ownership"},
	{re: regexp.MustCompile(`(?i)ITEM\s+13[.\s]+CERTAIN\s+RELATIONSHIPS`), label: "Item 13 - Related Transactions"},
	{re: regexp.MustCompile(`(?i)ITEM\s+14[.\s]+PRINCIPAL\s+ACCOUNTANT`), label: "Item 14 - Accountant Fees"},
	{re: regexp.MustCompile(`(?i)ITEM\s+15[.\s]+EXHIBITS`), label: "Item 15 - Exhibits"},
}

type section struct {
	label string
	text  string
	start int
}

// extractSections splits filing text at recognized item headers. Each
// section runs from its header to the next header or end of document.
// Text before the first header is dropped as boilerplate, and sections
// shorter than minChars are skipped.
func extractSections(text string, minChars int) []section {
	type headerMatch struct {
		start int
		label string
	}

	var matches []headerMatch
	for _, p := range sectionPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			matches = append(matches, headerMatch{start: loc[0], label: p.label})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	var sections []section
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1].start
		}
		body := strings.TrimSpace(text[m.start:end])
		if body == "" || len(body) <= minChars {
			continue
		}
		sections = append(sections, section{label: m.label, text: body, start: m.start})
	}
	return sections
}
