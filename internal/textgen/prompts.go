package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyTranscript is returned by [Summarize] for a blank transcript.
var ErrEmptyTranscript = errors.New("textgen: transcript is empty")

const summaryPrompt = `You are an executive assistant writing the minutes of a meeting from its transcript. Readers should not need to listen to the recording.

Cover, where the transcript supports it:
- the purpose of the meeting and who took part
- the topics discussed, in order, with one line each
- decisions, agreements and disagreements
- project status, blockers and changes of direction
- numbers, dates, names and other facts, without omission
- open questions

Speaker labels come from automatic diarization and may be wrong; infer who is speaking from context.
If the meeting has little substance, say "This meeting contained minimal actionable or strategic content."
Answer in Markdown with headings and bullet points.`

const actionItemsPrompt = `Extract the action items from the meeting transcript below.
Write one Markdown bullet per task in the form "- <task> (owner: <name or unknown>, due: <date or none>)".
If there are no action items, answer exactly "- None".`

// Summarize produces a Markdown summary and an action item list for a
// meeting transcript. The two requests are independent.
func Summarize(ctx context.Context, gen Generator, transcript string) (summary, actionItems string, err error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", "", ErrEmptyTranscript
	}

	summary, err = gen.Generate(ctx, []Message{
		{Role: RoleSystem, Content: summaryPrompt},
		{Role: RoleUser, Content: "Transcript:\n\n" + transcript},
	})
	if err != nil {
		return "", "", fmt.Errorf("textgen: summary: %w", err)
	}

	actionItems, err = gen.Generate(ctx, []Message{
		{Role: RoleSystem, Content: actionItemsPrompt},
		{Role: RoleUser, Content: "Transcript:\n\n" + transcript},
	})
	if err != nil {
		return "", "", fmt.Errorf("textgen: action items: %w", err)
	}
	return strings.TrimSpace(summary), strings.TrimSpace(actionItems), nil
}

// ChatContext returns the system message that grounds a chat about one
// recording. summary may be empty.
func ChatContext(transcript, summary string) Message {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Answer questions about the meeting below using only its transcript and summary. Be factual, crisp and clear.\n\n")
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	if summary != "" {
		b.WriteString("\n\nSummary:\n")
		b.WriteString(summary)
	}
	return Message{Role: RoleSystem, Content: b.String()}
}
