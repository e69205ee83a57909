package agent

import (
	"bufio"
	"strings"
)

// Section keys a contact report is parsed into. These become evidence
// fields on the persisted contact and columns in the final export.
const (
	SectionProfessionalSummary   = "professional_summary"
	SectionPersonalAnecdotes     = "personal_anecdotes"
	SectionProfessionalAnecdotes = "professional_anecdotes"
	SectionSources               = "sources"
	SectionGaps                  = "gaps"
)

var sectionHeadings = map[string]string{
	"professional summary":   SectionProfessionalSummary,
	"personal anecdotes":     SectionPersonalAnecdotes,
	"professional anecdotes": SectionProfessionalAnecdotes,
	"sources":                SectionSources,
	"gaps":                   SectionGaps,
}

// ParseReportSections splits a contact dossier into its named sections by
// Markdown heading. Headings are matched case-insensitively at any level;
// content before the first recognized heading and unrecognized sections are
// dropped. Missing sections simply have no key in the result.
func ParseReportSections(report string) map[string]string {
	sections := make(map[string]string)
	var (
		current string
		body    strings.Builder
	)
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(body.String())
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(report))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			heading := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
			flush()
			current = sectionHeadings[heading]
			continue
		}
		if current != "" {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	return sections
}
