package verify

import (
	"fmt"
	"regexp"

	"github.com/codeready-toolchain/overseer/pkg/store"
)

var todoPattern = regexp.MustCompile(`(?i)\b(TODO|FIXME)\b`)

func containsTodoMarker(content string) bool {
	return todoPattern.MatchString(content)
}

// FilesRequiredRule fails a conversation with more than MinActions actions
// and zero file-touch actions, per spec §4.12.
type FilesRequiredRule struct {
	MinActions int
}

// ID implements Rule.
func (r FilesRequiredRule) ID() string { return "files-required" }

// Check implements Rule.
func (r FilesRequiredRule) Check(conversationID string, actions []store.Action, m *Metrics) []Violation {
	if len(actions) <= r.MinActions {
		return nil
	}
	if m.ActualImplementation > 0 {
		return nil
	}
	return []Violation{{
		RuleID:         r.ID(),
		ConversationID: conversationID,
		Reason: fmt.Sprintf("%d actions recorded, none touched a file (files-required threshold: %d)",
			len(actions), r.MinActions),
	}}
}

// CodeToFilesRule fails a conversation if a code-block action is not
// followed by a file-touch action within the next Window actions, per spec
// §4.12.
type CodeToFilesRule struct {
	Window int
}

// ID implements Rule.
func (r CodeToFilesRule) ID() string { return "code-to-files" }

// Check implements Rule.
func (r CodeToFilesRule) Check(conversationID string, actions []store.Action, m *Metrics) []Violation {
	var violations []Violation
	for i, a := range actions {
		if a.Kind != store.ActionCodeBlock {
			continue
		}
		followed := false
		limit := i + r.Window
		if limit > len(actions)-1 {
			limit = len(actions) - 1
		}
		for j := i + 1; j <= limit; j++ {
			if isFileTouch(actions[j]) {
				followed = true
				break
			}
		}
		if !followed {
			violations = append(violations, Violation{
				RuleID:         r.ID(),
				ConversationID: conversationID,
				Reason: fmt.Sprintf("code-block action at index %d not followed by a file-touch within %d actions",
					i, r.Window),
			})
		}
	}
	return violations
}
