package errors

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
	// Configuration Errors (E101-E199)
	// ============================================

	"E101": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "No syncline.yaml was found in the working directory or any parent directory.",
		DocURL:   "https://syncline.dev/docs/errors/E101",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Configuration file is not valid YAML",
		Detail:   "The configuration file could not be parsed. Check indentation and quoting.",
		DocURL:   "https://syncline.dev/docs/errors/E102",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration field has a value outside its allowed range or format.",
		DocURL:   "https://syncline.dev/docs/errors/E103",
	},
	"E104": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   "Durations use Go syntax, e.g. \"30s\", \"5m\", \"1h30m\".",
		DocURL:   "https://syncline.dev/docs/errors/E104",
	},
	"E105": {
		Category: CategoryConfig,
		Message:  "Invalid listen address",
		Detail:   "The server address must be host:port, e.g. \":8080\" or \"0.0.0.0:9000\".",
		DocURL:   "https://syncline.dev/docs/errors/E105",
	},

	// ============================================
	// Store Errors (E201-E299)
	// ============================================

	"E201": {
		Category: CategoryStore,
		Message:  "Unknown store backend",
		Detail:   "The store.backend field must be one of: memory, redis, s3.",
		DocURL:   "https://syncline.dev/docs/errors/E201",
	},
	"E202": {
		Category: CategoryStore,
		Message:  "Store backend misconfigured",
		Detail:   "The selected store backend is missing a required field.",
		DocURL:   "https://syncline.dev/docs/errors/E202",
	},
	"E203": {
		Category: CategoryStore,
		Message:  "Store connection failed",
		Detail:   "The store backend could not be reached at startup.",
		DocURL:   "https://syncline.dev/docs/errors/E203",
	},

	// ============================================
	// Server Errors (E301-E399)
	// ============================================

	"E301": {
		Category: CategoryServer,
		Message:  "Server failed to start",
		Detail:   "The listener could not be bound. The port may already be in use.",
		DocURL:   "https://syncline.dev/docs/errors/E301",
	},
	"E302": {
		Category: CategoryServer,
		Message:  "Shutdown timed out",
		Detail:   "Active sessions did not drain within the shutdown timeout.",
		DocURL:   "https://syncline.dev/docs/errors/E302",
	},

	// ============================================
	// Schema Errors (E401-E499)
	// ============================================

	"E401": {
		Category: CategorySchema,
		Message:  "State schema is invalid",
		Detail:   "The state tree declaration failed validation. A computed field may reference an unknown input or form a dependency cycle.",
		DocURL:   "https://syncline.dev/docs/errors/E401",
	},

	// ============================================
	// CLI Errors (E501-E599)
	// ============================================

	"E501": {
		Category: CategoryCLI,
		Message:  "Unknown command",
		Detail:   "Run 'syncline --help' to list available commands.",
		DocURL:   "https://syncline.dev/docs/errors/E501",
	},
}

// Register adds a template at init time so embedding applications can
// define their own codes. Registering an existing code panics.
func Register(code string, template ErrorTemplate) {
	if _, ok := registry[code]; ok {
		panic("errors: duplicate error code " + code)
	}
	registry[code] = template
}
