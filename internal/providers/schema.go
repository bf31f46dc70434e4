package providers

// CleanSchemaForProvider adapts a generic JSON-Schema tool parameter map to
// a specific provider's quirks. Anthropic and OpenAI both accept plain
// JSON-Schema objects; the only known divergence in this codebase is that
// Anthropic rejects a bare top-level schema with no "type" key, so one is
// injected when missing. Everything else passes through unchanged — the
// schema walker in internal/tools/registry.go is what actually validates
// arguments, this function only shapes the wire copy sent upstream.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		schema = map[string]interface{}{}
	}
	cleaned := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		cleaned[k] = v
	}
	if provider == "anthropic" {
		if _, ok := cleaned["type"]; !ok {
			cleaned["type"] = "object"
		}
	}
	return cleaned
}
