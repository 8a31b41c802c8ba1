package fixtures

import "encoding/json"

// AdvisorReply returns the strict-JSON body an advisor is expected to
// produce.
func AdvisorReply(summary, recommendation string, risks ...string) string {
	if risks == nil {
		risks = []string{}
	}
	payload, _ := json.Marshal(map[string]any{
		"summary":        summary,
		"risks":          risks,
		"recommendation": recommendation,
	})
	return string(payload)
}

// MonarchReply returns the strict-JSON body the monarch synthesis is
// expected to produce.
func MonarchReply(decision, rationale string, nextActions ...string) string {
	if nextActions == nil {
		nextActions = []string{}
	}
	payload, _ := json.Marshal(map[string]any{
		"decision":        decision,
		"rationale":       rationale,
		"dissent_summary": "",
		"next_actions":    nextActions,
	})
	return string(payload)
}

// FencedAdvisorReply wraps an advisor reply in a Markdown code fence, the
// way models sometimes answer despite strict-JSON instructions.
func FencedAdvisorReply(summary, recommendation string) string {
	return "```json\n" + AdvisorReply(summary, recommendation) + "\n```"
}
