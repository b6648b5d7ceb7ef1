// Package dispatch implements the Command Dispatcher (spec.md §4.8): the
// single `execute(session_id, command, payload) -> Result` entry point
// shared by the HTTP surface and the CLI.
//
// spec.md §9's Design Notes call out the source's string-keyed command
// routing as a redesign target: "re-architect as a closed tagged variant...
// with the dispatcher exhaustively matching." Command below is that closed
// variant — a Kind discriminator plus one payload struct per case — instead
// of the free-form `{command string, payload map[string]any}` the HTTP body
// carries; Parse converts the wire shape into this variant once, at the
// boundary, so every internal caller matches on Kind exhaustively.
package dispatch

// Kind discriminates which case of Command is populated.
type Kind string

const (
	KindPlan                 Kind = "plan"
	KindAsk                  Kind = "ask"
	KindConfirmPlan          Kind = "confirm_plan"
	KindNext                 Kind = "next"
	KindAll                  Kind = "all"
	KindAppendSubtask        Kind = "append_subtask"
	KindInsertSubtask        Kind = "insert_subtask"
	KindUpdateSubtask        Kind = "update_subtask"
	KindSkipSubtask          Kind = "skip_subtask"
	KindSetCurrentSubtask    Kind = "set_current_subtask"
	KindApplyReviewerRevision Kind = "apply_reviewer_revision"
	KindDeleteSession        Kind = "delete_session"
)

// Command is the closed tagged variant spec.md §9 asks for: exactly one of
// the payload fields below is meaningful, selected by Kind.
type Command struct {
	Kind Kind

	// KindAsk
	Text string

	// KindAppendSubtask / KindInsertSubtask
	Title   string
	Notes   string
	AfterID string // KindInsertSubtask only

	// KindUpdateSubtask
	SubtaskID string
	NewTitle  *string
	NewNotes  *string

	// KindSkipSubtask
	// SubtaskID (shared above), Reason
	Reason string

	// KindSetCurrentSubtask / KindApplyReviewerRevision
	// SubtaskID (shared above)
}

// RawCommand is the wire shape of a POST /sessions/{id}/command body
// (spec.md §6): `{command, payload}` with an untyped payload map. Parse
// converts it to a Command once at the HTTP boundary.
type RawCommand struct {
	Command string         `json:"command"`
	Payload map[string]any `json:"payload"`
}

// ValidationError reports a malformed RawCommand.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Parse converts a RawCommand into the closed Command variant, exhaustively
// validating the shape of payload for the named command.
func Parse(raw RawCommand) (Command, error) {
	switch Kind(raw.Command) {
	case KindPlan:
		return Command{Kind: KindPlan}, nil
	case KindAsk:
		text, err := stringField(raw.Payload, "text", true)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindAsk, Text: text}, nil
	case KindConfirmPlan:
		return Command{Kind: KindConfirmPlan}, nil
	case KindNext:
		return Command{Kind: KindNext}, nil
	case KindAll:
		return Command{Kind: KindAll}, nil
	case KindAppendSubtask:
		title, err := stringField(raw.Payload, "title", true)
		if err != nil {
			return Command{}, err
		}
		notes, _ := stringField(raw.Payload, "notes", false)
		return Command{Kind: KindAppendSubtask, Title: title, Notes: notes}, nil
	case KindInsertSubtask:
		afterID, err := stringField(raw.Payload, "after_id", true)
		if err != nil {
			return Command{}, err
		}
		title, err := stringField(raw.Payload, "title", true)
		if err != nil {
			return Command{}, err
		}
		notes, _ := stringField(raw.Payload, "notes", false)
		return Command{Kind: KindInsertSubtask, AfterID: afterID, Title: title, Notes: notes}, nil
	case KindUpdateSubtask:
		subtaskID, err := stringField(raw.Payload, "subtask_id", true)
		if err != nil {
			return Command{}, err
		}
		cmd := Command{Kind: KindUpdateSubtask, SubtaskID: subtaskID}
		if v, ok := raw.Payload["title"]; ok {
			s, ok := v.(string)
			if !ok {
				return Command{}, &ValidationError{Field: "title", Message: "must be a string"}
			}
			cmd.NewTitle = &s
		}
		if v, ok := raw.Payload["notes"]; ok {
			s, ok := v.(string)
			if !ok {
				return Command{}, &ValidationError{Field: "notes", Message: "must be a string"}
			}
			cmd.NewNotes = &s
		}
		return cmd, nil
	case KindSkipSubtask:
		subtaskID, err := stringField(raw.Payload, "subtask_id", true)
		if err != nil {
			return Command{}, err
		}
		reason, _ := stringField(raw.Payload, "reason", false)
		return Command{Kind: KindSkipSubtask, SubtaskID: subtaskID, Reason: reason}, nil
	case KindSetCurrentSubtask:
		subtaskID, err := stringField(raw.Payload, "subtask_id", true)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindSetCurrentSubtask, SubtaskID: subtaskID}, nil
	case KindApplyReviewerRevision:
		subtaskID, err := stringField(raw.Payload, "subtask_id", true)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindApplyReviewerRevision, SubtaskID: subtaskID}, nil
	case KindDeleteSession:
		return Command{Kind: KindDeleteSession}, nil
	default:
		return Command{}, &ValidationError{Field: "command", Message: "unrecognized command " + raw.Command}
	}
}

func stringField(payload map[string]any, name string, required bool) (string, error) {
	v, ok := payload[name]
	if !ok {
		if required {
			return "", &ValidationError{Field: name, Message: "required"}
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: name, Message: "must be a string"}
	}
	if required && s == "" {
		return "", &ValidationError{Field: name, Message: "required"}
	}
	return s, nil
}
