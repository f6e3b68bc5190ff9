package translate

import (
	"fmt"
	"strings"

	"github.com/mgpai22/sublingo/internal/subtitle"
)

type PromptOptions struct {
	SourceLanguage string
	TargetLanguage string
	// extra instructions appended verbatim
	Prompt string
}

// BuildBatchPrompt creates the prompt for one batch. source is the batch's
// marker text: sentence groups of "[index] text" lines, one per subtitle.
func BuildBatchPrompt(opts PromptOptions, source string) string {
	target := subtitle.LanguageName(opts.TargetLanguage)
	var sb strings.Builder

	sb.WriteString("You are an expert subtitle translator. ")
	if opts.SourceLanguage != "" {
		sb.WriteString(fmt.Sprintf(
			"Translate the following %s subtitle lines into fluent, natural %s.\n\n",
			subtitle.LanguageName(opts.SourceLanguage),
			target,
		))
	} else {
		sb.WriteString(fmt.Sprintf(
			"Translate the following subtitle lines into fluent, natural %s.\n\n",
			target,
		))
	}

	sb.WriteString("IMPORTANT INSTRUCTIONS:\n")
	sb.WriteString(
		"1. Each sentence is enclosed by [GROUP START] and [GROUP END]. " +
			"Translate every group as its own sentence, using the neighbouring groups only as context.\n",
	)
	sb.WriteString(
		"2. Read the [index] lines of a group together to understand the full sentence they form.\n",
	)
	sb.WriteString(fmt.Sprintf(
		"3. Translate the complete sentence into high-quality %s.\n",
		target,
	))
	sb.WriteString(
		"4. Distribute each translated sentence back across its original [index] lines. " +
			"Every input [index] must appear exactly once in the output.\n",
	)
	sb.WriteString("5. Keep the [index] numbers unchanged and put each one on a new line.\n")
	sb.WriteString(
		"6. Output ONLY the [index] <translation> lines, with no group markers, explanation or markdown formatting.\n\n",
	)

	if opts.Prompt != "" {
		sb.WriteString(
			fmt.Sprintf("Additional instructions: %s\n\n", opts.Prompt),
		)
	}

	sb.WriteString("Example input:\n")
	sb.WriteString("[GROUP START]\n")
	sb.WriteString("[95] who honed his wine making skills\n")
	sb.WriteString("[96] in Australia and the US.\n")
	sb.WriteString("[GROUP END]\n")
	sb.WriteString("[GROUP START]\n")
	sb.WriteString("[97] It is a beautiful day.\n")
	sb.WriteString("[GROUP END]\n\n")
	sb.WriteString("Example output (Chinese):\n")
	sb.WriteString("[95] 他磨练了他的酿酒技巧\n")
	sb.WriteString("[96] 在澳大利亚和美国\n")
	sb.WriteString("[97] 今天天气真好。\n\n")

	sb.WriteString("Input:\n")
	sb.WriteString(strings.TrimRight(source, "\n"))
	sb.WriteString("\n\nOutput the translated lines only:")

	return sb.String()
}

// BuildSplitPrompt asks the model to cut one translated subtitle into n
// consecutive parts that read naturally on their own.
func BuildSplitPrompt(opts PromptOptions, text string, n int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(
		"The following %s subtitle is too long to show at once. "+
			"Split it into exactly %d consecutive parts.\n\n",
		subtitle.LanguageName(opts.TargetLanguage),
		n,
	))
	sb.WriteString("IMPORTANT INSTRUCTIONS:\n")
	sb.WriteString("1. Do not translate, rephrase, add or drop any words.\n")
	sb.WriteString("2. Cut at natural pauses: clause boundaries, punctuation, breaths.\n")
	sb.WriteString("3. Keep the parts roughly the same length.\n")
	sb.WriteString(fmt.Sprintf(
		"4. Output exactly %d lines numbered [1] to [%d], one part per line, nothing else.\n\n",
		n,
		n,
	))

	sb.WriteString("Subtitle:\n")
	sb.WriteString(strings.Join(strings.Fields(text), " "))
	sb.WriteString("\n\nOutput the parts only:")

	return sb.String()
}
