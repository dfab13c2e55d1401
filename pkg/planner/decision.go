package planner

import (
	"strings"
	"unicode"
)

// Decision is a human reply to a proposed plan.
type Decision struct {
	Approved bool
	Feedback string
}

var approvalWords = map[string]bool{
	"yes": true, "y": true, "yep": true, "yeah": true,
	"proceed": true, "approve": true, "approved": true,
	"ok": true, "okay": true, "good": true, "fine": true,
	"lgtm": true, "sure": true,
}

var negationWords = map[string]bool{
	"no": true, "n": true, "not": true, "don't": true, "dont": true,
	"reject": true, "rejected": true, "never": true, "nope": true,
}

// ParseDecision reads a free-text reply. Any approval word ("yes",
// "proceed", "approve", "ok", "good", "fine", ...) approves the plan unless
// the reply also contains a negation; everything else is feedback for a
// revision.
func ParseDecision(reply string) Decision {
	reply = strings.TrimSpace(reply)
	words := strings.FieldsFunc(strings.ToLower(reply), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	approved := false
	for _, w := range words {
		if negationWords[w] {
			return Decision{Approved: false, Feedback: reply}
		}
		if approvalWords[w] {
			approved = true
		}
	}
	if approved {
		return Decision{Approved: true}
	}
	return Decision{Approved: false, Feedback: reply}
}
