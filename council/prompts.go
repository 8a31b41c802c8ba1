package council

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Advisor is one seat on the council roster.
type Advisor struct {
	Name  string `json:"name" yaml:"name"`
	Style string `json:"style" yaml:"style"`
}

// DefaultRoster returns the four standing advisors.
func DefaultRoster() []Advisor {
	return []Advisor{
		{Name: "builder", Style: "Your lens: ship fast, pragmatic MVP, bias to action."},
		{Name: "skeptic", Style: "Your lens: security, failure modes, compliance, what can go wrong."},
		{Name: "optimizer", Style: "Your lens: cost, latency, architecture efficiency, operational simplicity."},
		{Name: "user_advocate", Style: "Your lens: UX clarity, trust, user value, friction reduction."},
	}
}

const advisorContract = `You must:
- Be opinionated
- Be internally consistent
- Defend your worldview
- Return STRICT JSON only

JSON format:
{
  "summary": string,
  "risks": [string],
  "recommendation": string
}`

const monarchSystem = `You are the final authority.
You must:
- Weigh all advisor positions
- Resolve contradictions
- Produce a decisive, actionable conclusion

Return STRICT JSON only:
{
  "decision": string,
  "rationale": string,
  "dissent_summary": string,
  "next_actions": [string]
}`

func advisorSystem(a Advisor) string {
	return fmt.Sprintf("You are %s.\n%s\n\n%s", a.Name, a.Style, advisorContract)
}

const revisionStyle = "Re-evaluate your position after reviewing other advisors. Defend or revise."

// peerPosition is what one advisor sees of another during the revision pass.
type peerPosition struct {
	Name           string `json:"name"`
	Summary        string `json:"summary"`
	Recommendation string `json:"recommendation"`
}

func revisionUser(question string, peers []peerPosition) string {
	payload, _ := json.Marshal(struct {
		Question      string         `json:"question"`
		PeerArguments []peerPosition `json:"peer_arguments"`
	}{Question: question, PeerArguments: peers})
	return string(payload)
}

func monarchUser(question string, advisors []AdvisorOutput) string {
	views := make([]peerPosition, 0, len(advisors))
	for _, a := range advisors {
		if a.Err != nil {
			continue
		}
		views = append(views, peerPosition{
			Name:           a.Name,
			Summary:        a.Summary,
			Recommendation: a.Recommendation,
		})
	}
	payload, _ := json.Marshal(struct {
		Question string         `json:"question"`
		Advisors []peerPosition `json:"advisors"`
	}{Question: question, Advisors: views})
	return string(payload)
}

type advisorJSON struct {
	Summary        string   `json:"summary"`
	Risks          []string `json:"risks"`
	Recommendation string   `json:"recommendation"`
}

type monarchJSON struct {
	Decision       string   `json:"decision"`
	Rationale      string   `json:"rationale"`
	DissentSummary string   `json:"dissent_summary"`
	NextActions    []string `json:"next_actions"`
}

// stripFences removes a Markdown code fence when the model wraps its JSON
// despite the strict-JSON instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseAdvisor decodes an advisor reply. Non-JSON content is preserved as
// the summary instead of being dropped.
func parseAdvisor(content string) advisorJSON {
	var out advisorJSON
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil {
		out.Summary = strings.TrimSpace(content)
	}
	return out
}

// parseMonarch decodes the synthesis reply, falling back to the raw content
// as the decision text.
func parseMonarch(content string) monarchJSON {
	var out monarchJSON
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil {
		out.Decision = strings.TrimSpace(content)
	}
	return out
}
