package permission

import (
	"strings"

	"github.com/agent-command/tgbridge/internal/providers"
	"github.com/agent-command/tgbridge/internal/signal"
)

// IsPlan reports a plan-mode dialog: the plan event, a stashed plan tool, a
// message that mentions plan mode, or a parsed header about plan mode.
func IsPlan(sig signal.Signal, header string) bool {
	if sig.Event == signal.EventPlan {
		return true
	}
	if sig.Tool == "EnterPlanMode" || sig.Tool == "ExitPlanMode" {
		return true
	}
	return providers.IsPlanMessage(sig.Message) || strings.Contains(strings.ToLower(header), "plan mode")
}

// AutoApprove decides whether god mode may answer a dialog unattended. Only
// permission dialogs qualify; plan-mode dialogs and questions always go to
// the operator.
func AutoApprove(godMode bool, sig signal.Signal, header string) bool {
	if !godMode || sig.Event != signal.EventPermission {
		return false
	}
	return !IsPlan(sig, header)
}
