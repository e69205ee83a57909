package agent

import (
	"fmt"
	"strings"

	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/regions"
)

// Prompt builders. Every prompt opens with a worker-mode preamble so the
// Agent answers as an unattended pipeline stage, not a chat assistant, and
// every machine-consumed field is bound to the declared output schema.

const workerModePreamble = `You are an unattended pipeline worker. There is no human in this
conversation. Never ask questions, never request confirmation, and never
explain your process. Respond only with the structured output described
below plus the requested artifact.`

// DiscoveryPromptInput carries everything the list agent needs for one
// region pass.
type DiscoveryPromptInput struct {
	Criteria   models.Criteria
	Region     regions.Region
	Target     int
	BatchSize  int
	Suppressed []string
	// KnownDomains are domains already collected this run; the agent must
	// not return them again.
	KnownDomains []string
}

// BuildDiscoveryPrompt renders the list agent prompt for one region. The
// target is already oversampled by the caller.
func BuildDiscoveryPrompt(in DiscoveryPromptInput) string {
	var b strings.Builder
	b.WriteString(workerModePreamble)
	b.WriteString("\n\n## Task\n")
	fmt.Fprintf(&b, "Find up to %d property management companies matching every requirement below.\n", in.Target)
	if in.BatchSize > 0 && in.Target > in.BatchSize {
		fmt.Fprintf(&b, "Work in batches of about %d companies and keep going until you reach %d or exhaust the region.\n",
			in.BatchSize, in.Target)
	}

	b.WriteString("\n## Hard requirements (every company must satisfy all of these)\n")
	if in.Criteria.PMS != "" {
		fmt.Fprintf(&b, "- The company must use %s as its property management software. This is a hard constraint. If you cannot find evidence of the PMS, do not include the company.\n", in.Criteria.PMS)
	}
	if in.Criteria.UnitsMin > 0 {
		fmt.Fprintf(&b, "- The company must manage at least %d units.\n", in.Criteria.UnitsMin)
	}
	fmt.Fprintf(&b, "- Geographic focus: %s.\n", in.Region.Focus)

	if len(in.Suppressed) > 0 {
		b.WriteString("\n## Excluded domains\nNever return a company whose domain appears in this list:\n")
		for _, d := range in.Suppressed {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if len(in.KnownDomains) > 0 {
		b.WriteString("\n## Already collected\nThese domains were already found this run; do not repeat them:\n")
		for _, d := range in.KnownDomains {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	b.WriteString("\n## Rules\n")
	b.WriteString("- Return companies only. Never look up, collect, or include individual people or their contact details.\n")
	b.WriteString("- Report each company's primary web domain, normalized (no scheme, no path, no www prefix).\n")
	b.WriteString("- Score each company 0 to 1 on how strongly the evidence supports the requirements.\n")
	b.WriteString("- If the region yields nothing, return an empty companies array.\n")
	return b.String()
}

// BuildResearchPrompt renders the research agent prompt for one company.
func BuildResearchPrompt(criteria models.Criteria, company *models.CompanyCandidate) string {
	var b strings.Builder
	b.WriteString(workerModePreamble)
	b.WriteString("\n\n## Task\n")
	fmt.Fprintf(&b, "Research the property management company %q (domain %s) in depth.\n",
		company.Name, company.Domain)

	b.WriteString("\n## Verify against these requirements\n")
	if criteria.PMS != "" {
		fmt.Fprintf(&b, "- Uses %s as its property management software.\n", criteria.PMS)
	}
	if criteria.UnitsMin > 0 {
		fmt.Fprintf(&b, "- Manages at least %d units.\n", criteria.UnitsMin)
	}
	if geo := criteria.GeoSummary(); geo != "" {
		fmt.Fprintf(&b, "- Operates in %s.\n", geo)
	}

	b.WriteString("\n## Output\n")
	b.WriteString("- facts must include: pms_confirmed (boolean plus evidence), units_estimate, property_mix, states_of_operation, and analysis_markdown with your full written analysis.\n")
	b.WriteString("- Set meets_all_requirements true only when every requirement is confirmed, false when any is disproven, and omit it when the evidence is inconclusive.\n")
	b.WriteString("- When meets_all_requirements is false, set rejected_reason to the single disqualifying fact.\n")
	b.WriteString("- confidence reflects evidence quality for the whole assessment, 0 to 1.\n")
	return b.String()
}

// ContactPromptInput carries what the contact agent needs for one company.
type ContactPromptInput struct {
	Company     *models.CompanyCandidate
	Research    *models.CompanyResearch
	Needed      int
	ContactsMax int
}

// BuildContactPrompt renders the contact agent prompt for one company.
func BuildContactPrompt(in ContactPromptInput) string {
	var b strings.Builder
	b.WriteString(workerModePreamble)
	b.WriteString("\n\n## Task\n")
	fmt.Fprintf(&b, "Find decision-makers at %q (domain %s).\n", in.Company.Name, in.Company.Domain)
	fmt.Fprintf(&b, "Return at least %d and at most %d contacts. Prefer operations, property management, and executive leadership roles.\n",
		in.Needed, in.ContactsMax)

	if in.Research != nil {
		if md, ok := in.Research.Facts["analysis_markdown"].(string); ok && md != "" {
			b.WriteString("\n## Company background\n")
			b.WriteString(md)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n## Report format\n")
	b.WriteString("Each contact's report is a Markdown dossier with exactly these sections:\n")
	b.WriteString("- ## Professional Summary\n")
	b.WriteString("- ## Personal Anecdotes\n")
	b.WriteString("- ## Professional Anecdotes\n")
	b.WriteString("- ## Sources\n")
	b.WriteString("- ## Gaps\n")
	b.WriteString("\n## Rules\n")
	b.WriteString("- Every contact needs a verifiable email address or LinkedIn profile URL. Skip anyone you cannot anchor to one of those.\n")
	b.WriteString("- Never invent contact details. List what you could not verify under Gaps.\n")
	b.WriteString("- Score each contact 0 to 1 on seniority fit and evidence strength.\n")
	return b.String()
}
