package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Startup Errors (R001-R019)
	// ============================================

	"R001": {
		Category: CategoryStartup,
		Message:  "Build id unreadable",
		Detail:   "The BUILD_ID marker could not be read from the build directory. The build is incomplete or the distDir setting points to the wrong place.",
	},
	"R002": {
		Category: CategoryStartup,
		Message:  "Required manifest missing",
		Detail:   "A manifest the router cannot serve without was not found in the build output.",
	},
	"R003": {
		Category: CategoryStartup,
		Message:  "Manifest is malformed",
		Detail:   "A manifest could not be decoded. Manifests are produced by the build and are never edited by hand.",
	},
	"R004": {
		Category: CategoryStartup,
		Message:  "Invalid route in manifest",
		Detail:   "A route pattern from the build output could not be compiled.",
	},
	"R005": {
		Category: CategoryStartup,
		Message:  "Invalid middleware manifest",
		Detail:   "The middleware descriptor does not contain a usable matcher list.",
	},
	"R006": {
		Category: CategoryStartup,
		Message:  "Build artifact source unavailable",
		Detail:   "The storage holding the build output could not be reached.",
	},
	"R007": {
		Category: CategoryStartup,
		Message:  "Live route scan failed",
		Detail:   "The pages or app directory could not be scanned.",
	},

	// ============================================
	// Configuration Errors (R020-R039)
	// ============================================

	"R020": {
		Category: CategoryConfig,
		Message:  "Config file unreadable",
	},
	"R021": {
		Category: CategoryConfig,
		Message:  "Config file is malformed",
	},
	"R022": {
		Category: CategoryConfig,
		Message:  "Invalid basePath",
		Detail:   "basePath must start with \"/\", must not end with \"/\" and cannot be \"/\" itself.",
	},
	"R023": {
		Category: CategoryConfig,
		Message:  "Invalid i18n configuration",
		Detail:   "i18n.defaultLocale must be one of i18n.locales.",
	},
	"R024": {
		Category: CategoryConfig,
		Message:  "Invalid custom route",
	},
	"R025": {
		Category: CategoryConfig,
		Message:  "Invalid output mode",
		Detail:   "output must be empty, \"standalone\" or \"export\".",
	},
	"R026": {
		Category: CategoryConfig,
		Message:  "Invalid middleware configuration",
	},
	"R027": {
		Category: CategoryConfig,
		Message:  "Route destination cannot be built",
		Detail:   "A matched rule references a parameter its source did not capture.",
	},
	"R028": {
		Category: CategoryConfig,
		Message:  "Invalid proxyTimeout",
		Detail:   "proxyTimeout must be zero or a positive duration.",
	},

	// ============================================
	// Transport Errors (R040-R059)
	// ============================================

	"R040": {
		Category: CategoryTransport,
		Message:  "Middleware endpoint unavailable",
		Detail:   "The isolated middleware endpoint is not running.",
	},
	"R041": {
		Category: CategoryTransport,
		Message:  "Middleware invocation failed",
	},
	"R042": {
		Category: CategoryTransport,
		Message:  "Malformed middleware response",
	},
	"R043": {
		Category: CategoryTransport,
		Message:  "Middleware execution failed",
		Detail:   "The middleware script threw or exceeded its time limit.",
	},
	"R044": {
		Category: CategoryTransport,
		Message:  "Upstream proxy failed",
	},

	// ============================================
	// CLI Errors (R060-R069)
	// ============================================

	"R060": {
		Category: CategoryCLI,
		Message:  "Invalid command-line arguments",
	},
}

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
