package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// Validator wraps go-playground/validator for struct-tag rules and adds the
// hand-rolled checks the tag syntax cannot express: serialized-size ceiling
// and per-part content non-emptiness.
type Validator struct {
	v              *validator.Validate
	maxMessageSize int
}

func NewValidator(maxMessageSize int) *Validator {
	return &Validator{v: validator.New(), maxMessageSize: maxMessageSize}
}

// ValidateMessage applies the full inbound rule set. The size ceiling is
// measured on the length of json.Marshal(msg) in bytes, not runes, so it
// behaves identically for ASCII and multibyte payloads alike.
func (mv *Validator) ValidateMessage(msg *Message) error {
	if msg.MessageID == "" {
		return &ValidationError{Reason: "messageId must be non-empty"}
	}
	if err := mv.v.Struct(msg); err != nil {
		return &ValidationError{Entity: msg.MessageID, Reason: err.Error()}
	}
	for i, p := range msg.Parts {
		if p.IsEmpty() {
			return &ValidationError{
				Entity: msg.MessageID,
				Reason: fmt.Sprintf("part %d of kind %q has no content", i, p.Kind),
			}
		}
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return &ValidationError{Entity: msg.MessageID, Reason: "message is not serializable: " + err.Error()}
	}
	if mv.maxMessageSize > 0 && len(encoded) > mv.maxMessageSize {
		return &ValidationError{
			Entity: msg.MessageID,
			Reason: fmt.Sprintf("serialized size %d exceeds maxMessageSize %d", len(encoded), mv.maxMessageSize),
		}
	}
	return nil
}

// matchSchema validates a JSON payload against a capability's declared
// input schema. All schema violations are folded into one error so the
// caller surfaces a single reason.
func matchSchema(schema, payload json.RawMessage) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	return errors.New(strings.Join(reasons, "; "))
}

// ValidateTask checks the struct tags on a Task before it is submitted.
func (mv *Validator) ValidateTask(t *Task) error {
	if t.ID == "" {
		return &ValidationError{Reason: "task id must be non-empty"}
	}
	if err := mv.v.Struct(t); err != nil {
		return &ValidationError{Entity: t.ID, Reason: err.Error()}
	}
	return nil
}
