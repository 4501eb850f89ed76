package errors

import "sort"

// Template defines a registered error code.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// Configuration errors (L100-L199).
const (
	CodeConfigNotFound = "L100"
	CodeConfigSyntax   = "L101"
	CodeConfigValue    = "L102"
	CodeConfigEnv      = "L103"
)

// Session store errors (L200-L299).
const (
	CodeStoreUnknown     = "L200"
	CodeStoreUnavailable = "L201"
)

// Server errors (L300-L399).
const (
	CodeListen   = "L300"
	CodeShutdown = "L301"
)

var registry = map[string]Template{
	CodeConfigNotFound: {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Suggestion: "Pass --config with the path to liveview.yaml, or omit it to run with defaults",
	},
	CodeConfigSyntax: {
		Category:   CategoryConfig,
		Message:    "Config file is not valid YAML",
		Suggestion: "Check indentation and that every key is followed by a colon",
	},
	CodeConfigValue: {
		Category: CategoryConfig,
		Message:  "Invalid config value",
	},
	CodeConfigEnv: {
		Category:   CategoryConfig,
		Message:    "Invalid environment override",
		Suggestion: "LIVEVIEW_* variables take the same formats as the config file",
	},
	CodeStoreUnknown: {
		Category:   CategoryStore,
		Message:    "Unknown session store",
		Suggestion: "Use one of: memory, redis, sqlite, s3",
	},
	CodeStoreUnavailable: {
		Category: CategoryStore,
		Message:  "Session store unavailable",
	},
	CodeListen: {
		Category:   CategoryServer,
		Message:    "Cannot listen on address",
		Suggestion: "Pick a free port with --addr",
	},
	CodeShutdown: {
		Category: CategoryServer,
		Message:  "Graceful shutdown did not complete",
		Detail:   "Some connections or sessions may not have been saved before the deadline.",
	},
}

// Codes returns every registered code in order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template registered for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
