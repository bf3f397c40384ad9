package batch

import (
	"fmt"
	"slices"
	"strings"

	"shelver/internal/services"
)

// Action is an operator action on a batch.
type Action string

const (
	ActionValidate Action = "validate"
	ActionExecute  Action = "execute"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionCancel   Action = "cancel"
)

// allowedFrom lists the batch statuses each action may start from. Validate
// and execute accept their own in-progress status so a run interrupted by a
// restart can be picked up again. Execute accepts validation_failed because
// invalid items are never runnable.
var allowedFrom = map[Action][]Status{
	ActionValidate: {StatusPending, StatusValidating, StatusValidated, StatusValidationFailed, StatusPaused},
	ActionExecute:  {StatusPending, StatusValidated, StatusValidationFailed, StatusPaused, StatusExecuting},
	ActionPause:    {StatusExecuting, StatusPaused},
	ActionResume:   {StatusPaused},
	ActionCancel:   {StatusPending, StatusValidating, StatusValidated, StatusValidationFailed, StatusExecuting, StatusPaused},
}

// Check returns a conflict error when action is not allowed for b.
func Check(b Batch, action Action) error {
	if slices.Contains(allowedFrom[action], b.Status) {
		return nil
	}
	msg := fmt.Sprintf("cannot %s batch %d while %s", action, b.ID, b.Status)
	return services.Wrap(services.ErrConflict, "batch", string(action), msg, nil)
}

// itemAllowedFrom lists the item statuses skip and retry may start from.
// Retrying an invalid item means validating the batch again.
var itemAllowedFrom = map[string][]ItemStatus{
	"skip":  {ItemFailed, ItemInvalid},
	"retry": {ItemFailed},
}

func checkItem(it Item, action string) error {
	from := itemAllowedFrom[action]
	if slices.Contains(from, it.Status) {
		return nil
	}
	names := make([]string, len(from))
	for i, st := range from {
		names[i] = string(st)
	}
	return services.Wrap(services.ErrConflict, "batch", action,
		fmt.Sprintf("item %d is %s; %s needs a %s item", it.ID, it.Status, action, strings.Join(names, " or ")), nil)
}

func statusArgs(statuses []Status) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
