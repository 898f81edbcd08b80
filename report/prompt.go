package report

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/richinex/deepresearch/config"
	"github.com/richinex/deepresearch/internal/textutil"
	"github.com/richinex/deepresearch/llm"
	"github.com/richinex/deepresearch/model"
	"github.com/richinex/deepresearch/storage"
)

const (
	evidenceBudget   = 60000
	minEntryBudget   = 500
	maxPromptSources = 60
)

const reportSystemPrompt = `You are a senior research analyst. You write the final report of a research run using only the evidence provided.

Rules:
- Every factual claim must be supported by the evidence.
- Cite sources with bracketed numbers from the source index, e.g. [1] or [2, 3]. Only use numbers that exist in the index.
- Do not write a references, sources or bibliography section. It is added automatically.
- Keep image placeholders such as [IMAGE:abc] exactly as given, on their own line, where the figure belongs.
- Write in Markdown.`

type promptInput struct {
	Topic       string
	Instruction string
	Plan        []model.PlanStep
	Sources     []model.Source
	Evidence    []EvidenceEntry
	Images      []storage.ImageAsset
	Profile     config.ModeProfile
	Mode        model.ResearchMode
	Sensitivity Sensitivity
	Now         time.Time
}

// buildMessages renders the report prompt. Modes that declare sections
// get a section-by-section outline; the rest get a free-form brief.
func buildMessages(in promptInput) []llm.ChatMessage {
	var b strings.Builder

	fmt.Fprintf(&b, "# Research topic\n%s\n\n", in.Topic)
	if in.Instruction != "" {
		b.WriteString("# Original instruction\n")
		b.WriteString("The user's request, verbatim. It takes priority over every other guideline below.\n\n")
		fmt.Fprintf(&b, "<<<\n%s\n>>>\n\n", in.Instruction)
	}

	if len(in.Plan) > 0 {
		b.WriteString("# Research plan\n")
		for i, ps := range in.Plan {
			fmt.Fprintf(&b, "%d. %s\n", i+1, ps.Question)
		}
		b.WriteString("\n")
	}

	b.WriteString("# Source index\n")
	if len(in.Sources) == 0 {
		b.WriteString("(no sources collected; do not invent citations)\n")
	}
	for i, src := range in.Sources {
		if i == maxPromptSources {
			fmt.Fprintf(&b, "... %d more sources omitted\n", len(in.Sources)-maxPromptSources)
			break
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n", i+1, strings.TrimSpace(src.Title), src.URL)
	}
	b.WriteString("\n")

	writeEvidence(&b, in.Evidence)

	if len(in.Images) > 0 {
		b.WriteString("# Figures\nPlace each of these placeholders in the report:\n")
		for _, img := range in.Images {
			fmt.Fprintf(&b, "- %s %s\n", img.Placeholder(), img.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("# Writing instructions\n")
	if in.Profile.Instructions != "" {
		b.WriteString(strings.TrimSpace(in.Profile.Instructions))
		b.WriteString("\n")
	}
	if in.Profile.Dynamic() {
		b.WriteString("\nStructure the report with these sections, in order:\n")
		for _, sec := range in.Profile.Sections {
			fmt.Fprintf(&b, "## %s\n", sec)
		}
	} else {
		b.WriteString("\nOrganise the report around the research plan, one section per theme.\n")
	}
	if in.Sensitivity == SensitivityHigh {
		fmt.Fprintf(&b, "\nThis topic is time-sensitive. Today is %s; state how current each key figure is.\n", in.Now.Format(time.DateOnly))
	}
	b.WriteString("\nCite with bracketed source numbers such as [1] or [1, 3], placed at the end of the sentence it supports. Do not add a references section.\n")

	return []llm.ChatMessage{
		llm.SystemMessage(reportSystemPrompt),
		llm.UserMessage(b.String()),
	}
}

// writeEvidence renders evidence entries in step order within a shared
// rune budget. Later entries are truncated first.
func writeEvidence(b *strings.Builder, evidence []EvidenceEntry) {
	b.WriteString("# Evidence\n")
	if len(evidence) == 0 {
		b.WriteString("(no usable evidence was collected)\n\n")
		return
	}
	remaining := evidenceBudget
	for _, ev := range evidence {
		content := ev.Content
		if n := utf8.RuneCountInString(content); n > remaining {
			if remaining < minEntryBudget {
				fmt.Fprintf(b, "## Step %d (%s)\n(omitted: evidence budget exhausted)\n\n", ev.StepIndex, ev.Tool)
				continue
			}
			content = textutil.Truncate(content, remaining)
		}
		remaining -= utf8.RuneCountInString(content)
		fmt.Fprintf(b, "## Step %d (%s, %s)\n%s\n\n", ev.StepIndex, ev.Tool, ev.Strategy, content)
	}
}
