package firewall

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

// Dangerous constructs scanned for in high-risk fields of structured
// messages: shell substitution, template injection, code execution.
var dangerous = []*regexp.Regexp{
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\{\{.*\}\}`),
	regexp.MustCompile(`(?i)\b(exec|eval|system|popen)\s*\(`),
	regexp.MustCompile(`(?i)__import__`),
	regexp.MustCompile(`;\s*(rm|curl|wget|sh|bash)\b`),
}

// messageSchema pairs a compiled JSON Schema with the subset of its
// fields whose values get the dangerous-pattern scan.
type messageSchema struct {
	compiled      *jsonschema.Schema
	highRiskField map[string]bool
}

// MessageValidator checks structured inter-agent messages: shape via
// JSON Schema, content of high-risk fields via the dangerous-pattern
// scan. Safe fields pass through unexamined.
type MessageValidator struct {
	schemas map[string]messageSchema
}

// NewMessageValidator creates an empty validator.
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{schemas: make(map[string]messageSchema)}
}

// RegisterSchema compiles and registers the schema for a message type.
func (v *MessageValidator) RegisterSchema(messageType, schema string, highRiskFields []string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://aes.schemas.local/firewall/%s.schema.json", messageType)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("firewall schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("firewall schema compile failed: %w", err)
	}
	risky := make(map[string]bool, len(highRiskFields))
	for _, name := range highRiskFields {
		risky[name] = true
	}
	v.schemas[messageType] = messageSchema{compiled: compiled, highRiskField: risky}
	return nil
}

// ToolResultMessage is the message type tool-result payloads are
// validated under before they become evidence.
const ToolResultMessage = "tool_result"

const toolResultSchema = `{
	"type": "object",
	"properties": {
		"title":      {"type": "string", "maxLength": 500},
		"summary":    {"type": "string", "maxLength": 5000},
		"source_url": {"type": "string", "maxLength": 2000}
	},
	"additionalProperties": true
}`

// DefaultToolResultValidator returns a validator with the tool-result
// schema registered. Title and summary carry untrusted feed text and
// get the dangerous-pattern scan.
func DefaultToolResultValidator() *MessageValidator {
	v := NewMessageValidator()
	if err := v.RegisterSchema(ToolResultMessage, toolResultSchema, []string{"title", "summary"}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks a structured message. Unknown message types fail
// closed.
func (v *MessageValidator) Validate(source, target contracts.Role, messageType string, msg map[string]any) error {
	schema, found := v.schemas[messageType]
	if !found {
		return fmt.Errorf("firewall blocked message type %q: no schema registered", messageType)
	}
	if err := schema.compiled.Validate(msg); err != nil {
		return fmt.Errorf("firewall blocked %q message: schema validation failed: %w", messageType, err)
	}
	for field, value := range msg {
		if !schema.highRiskField[field] {
			continue
		}
		text, isString := value.(string)
		if !isString {
			continue
		}
		for _, re := range dangerous {
			if match := re.FindString(text); match != "" {
				return &InjectionError{
					Source:  source,
					Target:  target,
					Class:   ClassActionSchema,
					Matched: fmt.Sprintf("%s: %s", field, match),
				}
			}
		}
		if err := Inspect(source, target, text); err != nil {
			return err
		}
	}
	return nil
}
