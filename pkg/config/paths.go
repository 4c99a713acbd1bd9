package config

// Environment variable names
const (
	EnvBaseURL         = "SCANOPY_BASE_URL"
	EnvAPIKey          = "SCANOPY_API_KEY"
	EnvConfirmString   = "SCANOPY_CONFIRM_STRING"
	EnvOpenAPIURL      = "SCANOPY_OPENAPI_URL"
	EnvOpenAPIFile     = "SCANOPY_OPENAPI_FILE"
	EnvOpenAPITTL      = "SCANOPY_OPENAPI_TTL_SECONDS"
	EnvOpenAPIRefresh  = "SCANOPY_OPENAPI_REFRESH"
	EnvTimeoutSeconds  = "SCANOPY_TIMEOUT_SECONDS"
	EnvAllowlistFile   = "SCANOPY_ALLOWLIST_FILE"
	EnvLogLevel        = "SCANOPY_LOG_LEVEL"
	EnvTrace           = "SCANOPY_TRACE"
	DefaultEnvFileName = ".env"
)

// Defaults applied when the environment leaves a value unset
const (
	DefaultConfirmString  = "I understand this will modify Scanopy"
	DefaultOpenAPIPath    = "/openapi.json"
	DefaultOpenAPITTL     = 600
	DefaultTimeoutSeconds = 10
	DefaultLogLevel       = "INFO"
)

// DefaultWriteAllowlist is the built-in set of mutating operation ids that
// may execute. Format is "resource.action", matching the document operationId.
var DefaultWriteAllowlist = []string{
	// Discovery
	"discoveries.create",
	"discoveries.start",
	"discoveries.stop",
	// Hosts
	"hosts.update",
	"hosts.merge",
	// Networks and subnets
	"networks.create",
	"networks.update",
	"subnets.create",
	"subnets.update",
	// Services and ports
	"services.update",
	"ports.update",
}
