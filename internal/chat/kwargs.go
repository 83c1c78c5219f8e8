package chat

// mergeKwargs layers request template keywords over session defaults.
func mergeKwargs(defaults, req map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(req))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range req {
		out[k] = v
	}
	return out
}

// enableThinking reads the enable_thinking keyword. Only the literal
// strings "true" and "false" change the default of true.
func enableThinking(kwargs map[string]string) bool {
	switch kwargs["enable_thinking"] {
	case "false":
		return false
	default:
		return true
	}
}
