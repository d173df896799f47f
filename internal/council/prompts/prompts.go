// Package prompts renders the model-facing text for each pipeline stage.
// Every system prompt carries a version marker so output drift in production
// can be traced back to a prompt revision.
package prompts

import (
	"fmt"
	"strings"
)

const styleMarker = "ROUNDTABLE_COUNCIL_V1"

// Deliberation is the Stage-1 prompt pair. Each deliberator answers alone and
// never sees another seat's output.
func Deliberation(question string) (string, string) {
	var sys strings.Builder
	sys.WriteString(styleMarker)
	sys.WriteString("\nYou hold one independent seat on a business advisory council.")
	sys.WriteString("\nGive your own best answer to the user's question.")
	sys.WriteString("\nBe specific and actionable; state key assumptions and risks.")
	sys.WriteString("\nDo not speculate about what other council members might say.")
	return sys.String(), strings.TrimSpace(question)
}

// Review is the Stage-2 prompt pair for one reviewer seat. Candidates are
// numbered 1..n in Stage-1 seat order. With a nil attribution slice the
// ballot is blind; otherwise attributions[i] names the author of answers[i].
func Review(question string, answers, attributions []string) (string, string) {
	n := len(answers)

	var sys strings.Builder
	sys.WriteString(styleMarker)
	sys.WriteString("\nYou are one reviewer on a peer-review panel for a business advisory council.")
	fmt.Fprintf(&sys, "\nRank all %d candidate responses from best to worst.", n)
	sys.WriteString("\nJudge only substance: correctness, specificity, and practical value.")
	sys.WriteString("\nReply with a single JSON object of the form {\"ranking\": [...]} where")
	sys.WriteString("\nthe array lists every response number exactly once, best first.")
	sys.WriteString("\nYou may add a \"scores\" object mapping response numbers to 0-10 scores.")
	sys.WriteString("\nOutput only the JSON object, nothing else.")

	var usr strings.Builder
	usr.WriteString("QUESTION:\n")
	usr.WriteString(strings.TrimSpace(question))
	usr.WriteString("\n\nCANDIDATE RESPONSES:")
	for i, answer := range answers {
		if len(attributions) == n && attributions[i] != "" {
			fmt.Fprintf(&usr, "\n\nRESPONSE %d (by %s):\n%s", i+1, attributions[i], strings.TrimSpace(answer))
		} else {
			fmt.Fprintf(&usr, "\n\nRESPONSE %d:\n%s", i+1, strings.TrimSpace(answer))
		}
	}
	return sys.String(), usr.String()
}

// Synthesis is the Stage-3 prompt pair for the chairman seat.
func Synthesis(question string, rankedAnswers []string, rationale string) (string, string) {
	var sys strings.Builder
	sys.WriteString(styleMarker)
	sys.WriteString("\nYou chair a business advisory council.")
	sys.WriteString("\nThe council has deliberated and peer-reviewed its answers.")
	sys.WriteString("\nWrite the council's single final answer for the user.")
	sys.WriteString("\nLean on the top-ranked answers and reconcile disagreements into one")
	sys.WriteString("\ncoherent recommendation. Never mention the council's internal process")
	sys.WriteString("\nor that multiple answers existed.")

	var usr strings.Builder
	usr.WriteString("QUESTION:\n")
	usr.WriteString(strings.TrimSpace(question))
	usr.WriteString("\n\nCOUNCIL ANSWERS, BEST FIRST:")
	for i, answer := range rankedAnswers {
		fmt.Fprintf(&usr, "\n\nANSWER %d:\n%s", i+1, strings.TrimSpace(answer))
	}
	if strings.TrimSpace(rationale) != "" {
		usr.WriteString("\n\nPANEL REVIEW NOTES:\n")
		usr.WriteString(strings.TrimSpace(rationale))
	}
	return sys.String(), usr.String()
}
