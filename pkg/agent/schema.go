package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Output schemas declared per role. These are sent verbatim with each
// invocation and enforced on the response before any field is trusted.
const (
	discoverySchema = `{
  "type": "object",
  "required": ["companies"],
  "properties": {
    "companies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "domain"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "domain": {"type": "string", "minLength": 1},
          "website": {"type": "string"},
          "state": {"type": "string"},
          "pms": {"type": "string"},
          "units_estimate": {"type": "integer", "minimum": 0},
          "quality_score": {"type": "number", "minimum": 0, "maximum": 1},
          "evidence": {"type": "object"}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

	researchSchema = `{
  "type": "object",
  "required": ["facts", "confidence"],
  "properties": {
    "facts": {"type": "object"},
    "signals": {"type": "object"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "meets_all_requirements": {"type": ["boolean", "null"]},
    "rejected_reason": {"type": "string"}
  }
}`

	contactSchema = `{
  "type": "object",
  "required": ["contacts"],
  "properties": {
    "contacts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["full_name", "report"],
        "properties": {
          "full_name": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "email": {"type": "string"},
          "linkedin_url": {"type": "string"},
          "department": {"type": "string"},
          "seniority": {"type": "string"},
          "quality_score": {"type": "number", "minimum": 0, "maximum": 1},
          "signals": {"type": "object"},
          "report": {"type": "string", "minLength": 1}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`
)

var (
	compileOnce sync.Once
	compiled    map[Role]*jsonschema.Schema
	compileErr  error
)

func compiledSchemas() (map[Role]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[Role]*jsonschema.Schema, 3)
		for role, raw := range map[Role]string{
			RoleList:     discoverySchema,
			RoleResearch: researchSchema,
			RoleContact:  contactSchema,
		} {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
			if err != nil {
				compileErr = fmt.Errorf("failed to parse %s schema: %w", role, err)
				return
			}
			c := jsonschema.NewCompiler()
			name := fmt.Sprintf("leadpipe://%s-output.json", role)
			if err := c.AddResource(name, doc); err != nil {
				compileErr = fmt.Errorf("failed to add %s schema resource: %w", role, err)
				return
			}
			sch, err := c.Compile(name)
			if err != nil {
				compileErr = fmt.Errorf("failed to compile %s schema: %w", role, err)
				return
			}
			compiled[role] = sch
		}
	})
	return compiled, compileErr
}

// SchemaFor returns the raw output schema declared for a role.
func SchemaFor(role Role) json.RawMessage {
	switch role {
	case RoleList:
		return json.RawMessage(discoverySchema)
	case RoleResearch:
		return json.RawMessage(researchSchema)
	case RoleContact:
		return json.RawMessage(contactSchema)
	default:
		return nil
	}
}

func validate(role Role, output json.RawMessage) error {
	if len(output) == 0 {
		return fmt.Errorf("%w: empty output for role %s", ErrContract, role)
	}
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	value, err := jsonschema.UnmarshalJSON(strings.NewReader(string(output)))
	if err != nil {
		return fmt.Errorf("%w: output is not valid JSON: %v", ErrContract, err)
	}
	if err := schemas[role].Validate(value); err != nil {
		return fmt.Errorf("%w: %v", ErrContract, err)
	}
	return nil
}

// DecodeDiscovery validates and decodes a list agent result.
func DecodeDiscovery(res *Result) (*DiscoveryOutput, error) {
	if err := validate(RoleList, res.Output); err != nil {
		return nil, err
	}
	var out DiscoveryOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContract, err)
	}
	return &out, nil
}

// DecodeResearch validates and decodes a research agent result.
func DecodeResearch(res *Result) (*ResearchOutput, error) {
	if err := validate(RoleResearch, res.Output); err != nil {
		return nil, err
	}
	var out ResearchOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContract, err)
	}
	return &out, nil
}

// DecodeContacts validates and decodes a contact agent result.
func DecodeContacts(res *Result) (*ContactOutput, error) {
	if err := validate(RoleContact, res.Output); err != nil {
		return nil, err
	}
	var out ContactOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContract, err)
	}
	return &out, nil
}
