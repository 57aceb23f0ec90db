package executors

import "strings"

// The helpers below read executor options from the generic map parsed out
// of TOML. Missing keys and wrong types yield the zero value.

func intOption(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatOption(cfg map[string]any, key string) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func stringOption(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func boolOption(cfg map[string]any, key string) bool {
	b, _ := cfg[key].(bool)
	return b
}

func stringSliceOption(cfg map[string]any, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// subOptions collects keys under prefix with the prefix stripped,
// so "env.LANG" becomes "LANG" for prefix "env.".
func subOptions(cfg map[string]any, prefix string) map[string]string {
	var out map[string]string
	for k, v := range cfg {
		name, found := strings.CutPrefix(k, prefix)
		s, ok := v.(string)
		if !found || name == "" || !ok {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[name] = s
	}
	return out
}
