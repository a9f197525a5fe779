package redact

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedSecretValue replaces the value of any recognized secret-bearing
// field found inside a structured (JSON or YAML) document a subject
// process prints.
const MaskedSecretValue = "[MASKED_SECRET_DATA]"

// secretFieldNames are map keys masked wherever they occur in a parsed
// document, at any nesting depth. A subject process may print a Kubernetes
// Secret, a cloud credentials file, or an application config dump, and all
// of them reuse this same small vocabulary of field names for their secret
// payload, so the mask isn't tied to any one resource shape.
var secretFieldNames = map[string]bool{
	"password": true, "passwd": true,
	"secret": true, "secrets": true,
	"token": true, "accesstoken": true, "access_token": true,
	"apikey": true, "api_key": true,
	"privatekey": true, "private_key": true,
	"clientsecret": true, "client_secret": true,
	"secretkey": true, "secret_key": true,
	"authtoken": true, "auth_token": true,
	"credentials": true,
}

// StructuredSecretMasker parses a subject process's JSON or YAML output and
// masks secret-bearing fields anywhere in the document tree: generically by
// field name (password, token, apiKey, ...), plus the data/stringData maps
// of a Kubernetes Secret or SecretList specifically, since their values are
// secret material regardless of what key holds them.
type StructuredSecretMasker struct{}

func (m *StructuredSecretMasker) Name() string { return "structured_secret" }

// AppliesTo is a cheap pre-filter: the content must look like a JSON/YAML
// document and mention a secret-shaped field name before Mask bothers
// parsing it.
func (m *StructuredSecretMasker) AppliesTo(data string) bool {
	if !looksStructured(data) {
		return false
	}
	lower := strings.ToLower(data)
	if strings.Contains(lower, "kind: secret") || strings.Contains(lower, `"kind":"secret"`) || strings.Contains(lower, `"kind": "secret"`) {
		return true
	}
	for field := range secretFieldNames {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

func looksStructured(data string) bool {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return false
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return true
	}
	return strings.Contains(trimmed, ":")
}

// Mask detects JSON vs YAML and applies the appropriate parser. Returns the
// original data on parse/processing errors or when nothing matched.
func (m *StructuredSecretMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)

	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := m.maskJSON(data); masked != data {
			return masked
		}
	}
	if masked := m.maskYAML(data); masked != data {
		return masked
	}
	return data
}

func (m *StructuredSecretMasker) maskYAML(data string) string {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	var documents []any
	anyMasked := false

	for {
		var doc any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return data
		}
		if doc == nil {
			continue
		}
		if maskValue(doc) {
			anyMasked = true
		}
		documents = append(documents, doc)
	}

	if !anyMasked || len(documents) == 0 {
		return data
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range documents {
		if err := encoder.Encode(doc); err != nil {
			return data
		}
	}
	if err := encoder.Close(); err != nil {
		return data
	}

	result := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result
}

func (m *StructuredSecretMasker) maskJSON(data string) string {
	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return data
	}
	if !maskValue(doc) {
		return data
	}

	result, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return data
	}
	output := string(result)
	if strings.HasSuffix(data, "\n") {
		output += "\n"
	}
	return output
}

// maskValue walks v recursively, masking secret-bearing fields in place.
// Reports whether anything was masked.
func maskValue(v any) bool {
	switch node := v.(type) {
	case map[string]any:
		return maskMap(node)
	case []any:
		masked := false
		for _, item := range node {
			if maskValue(item) {
				masked = true
			}
		}
		return masked
	default:
		return false
	}
}

func maskMap(m map[string]any) bool {
	masked := false

	switch kind, _ := m["kind"].(string); kind {
	case "Secret":
		for _, field := range []string{"data", "stringData"} {
			if maskDataMapField(m, field) {
				masked = true
			}
		}
	case "SecretList":
		if items, ok := m["items"].([]any); ok {
			for _, item := range items {
				itemMap, ok := item.(map[string]any)
				if !ok {
					continue
				}
				for _, field := range []string{"data", "stringData"} {
					if maskDataMapField(itemMap, field) {
						masked = true
					}
				}
			}
		}
	}

	for key, val := range m {
		if secretFieldNames[strings.ToLower(key)] {
			if _, isMap := val.(map[string]any); !isMap {
				if _, isList := val.([]any); !isList {
					m[key] = MaskedSecretValue
					masked = true
					continue
				}
			}
		}
		if maskValue(val) {
			masked = true
		}
	}
	return masked
}

func maskDataMapField(m map[string]any, field string) bool {
	raw, ok := m[field]
	if !ok {
		return false
	}
	dataMap, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	masked := false
	for key := range dataMap {
		dataMap[key] = MaskedSecretValue
		masked = true
	}
	return masked
}
