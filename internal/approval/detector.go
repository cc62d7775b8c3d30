// Package approval classifies task content against the fixed sensitive-action
// taxonomy and enforces the human-approval gate. The single most important
// invariant in the core lives here: a sensitive action executes only when the
// task is physically in the Approved folder AND its embedded request carries
// an approved decision.
package approval

import (
	"regexp"
	"time"

	"foldergate/internal/model"
)

// Classification is the detector's verdict on a task's content.
type Classification struct {
	Sensitive  bool
	ActionType model.ActionType
	RiskLevel  model.RiskLevel
	Matched    string
}

type patternRule struct {
	re     *regexp.Regexp
	action model.ActionType
	risk   model.RiskLevel
}

// The taxonomy is fixed; rules are ordered by descending risk so the first
// match is also the highest-stakes one.
var patternRules = []patternRule{
	{regexp.MustCompile(`(?i)\b(make a payment|pay the|payment of|wire transfer|transfer (funds|money)|send money|refund|invoice payment|charge the card)\b`), model.ActionMakePayment, model.RiskHigh},
	{regexp.MustCompile(`(?i)\b(delete (the |all )?(data|records|files|account)|purge|erase (the |all )?\w+|drop table|wipe the)\b`), model.ActionDeleteData, model.RiskHigh},
	{regexp.MustCompile(`(?i)\b(post publicly|publish (the |this )?\w+|make public|announce publicly|tweet|post to social)\b`), model.ActionPostPublic, model.RiskMedium},
	{regexp.MustCompile(`(?i)\b(send (an |a |the )?(email|message|reply|response)|email (to|the)|reply to|message the)\b`), model.ActionSendMessage, model.RiskMedium},
}

// Classify pattern-matches task content against the taxonomy. Content that
// matches nothing is not sensitive and must flow Planning→Ready without ever
// creating an approval request.
func Classify(content string) Classification {
	for _, rule := range patternRules {
		if m := rule.re.FindString(content); m != "" {
			return Classification{
				Sensitive:  true,
				ActionType: rule.action,
				RiskLevel:  rule.risk,
				Matched:    m,
			}
		}
	}
	return Classification{}
}

// explicitRiskKey is the metadata key a producer may set to force gating
// regardless of content.
const explicitRiskKey = "risk"

// RequiresApproval combines content classification with explicit risk
// metadata already on the task.
func RequiresApproval(task *model.Task) (Classification, bool) {
	c := Classify(task.Body)
	if c.Sensitive {
		if r, ok := explicitRisk(task); ok && riskRank(r) > riskRank(c.RiskLevel) {
			c.RiskLevel = r
		}
		return c, true
	}
	if r, ok := explicitRisk(task); ok && r != model.RiskLow {
		return Classification{
			Sensitive:  true,
			ActionType: model.ActionSendMessage,
			RiskLevel:  r,
			Matched:    "explicit risk metadata",
		}, true
	}
	return c, false
}

func explicitRisk(task *model.Task) (model.RiskLevel, bool) {
	switch model.RiskLevel(task.Metadata[explicitRiskKey]) {
	case model.RiskLow:
		return model.RiskLow, true
	case model.RiskMedium:
		return model.RiskMedium, true
	case model.RiskHigh:
		return model.RiskHigh, true
	default:
		return "", false
	}
}

func riskRank(r model.RiskLevel) int {
	switch r {
	case model.RiskHigh:
		return 3
	case model.RiskMedium:
		return 2
	case model.RiskLow:
		return 1
	default:
		return 0
	}
}

// NewRequest builds the approval request embedded in a task's header when the
// detector flags it during the Planning→Pending-Approval transition.
func NewRequest(task *model.Task, c Classification) *model.ApprovalRequest {
	return &model.ApprovalRequest{
		TaskID:        task.ID,
		ActionType:    c.ActionType,
		RiskLevel:     c.RiskLevel,
		Justification: "detected sensitive action: " + c.Matched,
		RequestedAt:   time.Now().UTC().Format(time.RFC3339),
		Decision:      model.DecisionPending,
	}
}
