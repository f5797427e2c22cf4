package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names when reading env vars.
const EnvPrefix = "CONTENTSYNC_"

// Store backends accepted by -store.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreS3     = "s3"
)

type App struct {
	ConfigFile string

	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPHost    string
	HTTPPort    int
	AdminPort   int
	EnablePprof bool

	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64

	// CMS project
	CMSBaseURL        string
	RealtimeURL       string
	RequestsPerSecond float64
	ProjectID         string
	APIKey            string
	APIKeySSMParam    string
	ProjectSecret     string
	SecretSSMParam    string
	DefaultLanguage   string
	HostLanguages     string
	DisablePrefetch   bool
	ExposeToken       bool

	// persistence
	Store      string
	StoreDir   string
	SQLitePath string
	S3Bucket   string
	S3Prefix   string

	RefreshInterval time.Duration
	RefreshLeeway   time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.ConfigFile, "config", "", "optional YAML config file (keys are flag names)")

	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.StringVar(&c.HTTPHost, "http-host", "127.0.0.1", "local content API listen host (empty for all interfaces)")
	fs.IntVar(&c.HTTPPort, "http-port", 8480, "local content API listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9480, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")

	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.CMSBaseURL, "cms-url", "", "CMS origin serving /api/sdk")
	fs.StringVar(&c.RealtimeURL, "realtime-url", "", "change feed websocket url (empty disables live updates)")
	fs.Float64Var(&c.RequestsPerSecond, "cms-rps", 20, "max REST calls per second to the CMS")
	fs.StringVar(&c.ProjectID, "project-id", "", "CMS project id")
	fs.StringVar(&c.APIKey, "api-key", "", "CMS api key")
	fs.StringVar(&c.APIKeySSMParam, "api-key-ssm-param", "", "ssm parameter holding the api key (used when -api-key is empty)")
	fs.StringVar(&c.ProjectSecret, "project-secret", "", "project secret for the realtime handshake")
	fs.StringVar(&c.SecretSSMParam, "project-secret-ssm-param", "", "ssm parameter holding the project secret (used when -project-secret is empty)")
	fs.StringVar(&c.DefaultLanguage, "default-language", "", "language to use when the host preference matches nothing")
	fs.StringVar(&c.HostLanguages, "host-languages", "", "comma separated host language preference (default from LANGUAGE/LC_ALL/LANG)")
	fs.BoolVar(&c.DisablePrefetch, "disable-prefetch", false, "do not warm image URLs after an images sync")
	fs.BoolVar(&c.ExposeToken, "expose-token", false, "allow meta:auth_token over the local content API")

	fs.StringVar(&c.Store, "store", StoreFile, "persistence backend: memory|file|sqlite|s3")
	fs.StringVar(&c.StoreDir, "store-dir", "/var/lib/contentsync", "directory for the file store")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "/var/lib/contentsync/contentsync.db", "database path for the sqlite store")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "bucket for the s3 store")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "contentsync", "key prefix for the s3 store")

	fs.DurationVar(&c.RefreshInterval, "refresh-interval", 15*time.Minute, "re-authenticate and re-sync at least this often")
	fs.DurationVar(&c.RefreshLeeway, "refresh-leeway", time.Minute, "refresh this long before the session token expires")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Load parses args, then fills unset flags from env and then from the
// -config file. Precedence: cli flag > env var > config file > default.
func Load(fs *flag.FlagSet, c *App, args []string, logf func(string, ...any)) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	FillFromEnv(fs, EnvPrefix, logf)
	if c.ConfigFile == "" {
		return nil
	}
	return FillFromFile(fs, c.ConfigFile, logf)
}

// HostLanguageList splits -host-languages, or returns nil to use the
// process locale.
func (c App) HostLanguageList() []string {
	var out []string
	for _, s := range strings.Split(c.HostLanguages, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if strings.Contains(c.OTLPEndpoint, "://") {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port without a scheme (got %q)", c.OTLPEndpoint))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// CMS
	if c.CMSBaseURL == "" {
		errs = append(errs, fmt.Errorf("CMS_URL is required"))
	} else if u, err := url.Parse(c.CMSBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("CMS_URL must be an http(s) URL (got %q)", c.CMSBaseURL))
	}
	if c.RealtimeURL != "" {
		if u, err := url.Parse(c.RealtimeURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("REALTIME_URL must be a URL (got %q)", c.RealtimeURL))
		} else {
			switch u.Scheme {
			case "ws", "wss", "http", "https":
			default:
				errs = append(errs, fmt.Errorf("REALTIME_URL scheme must be ws(s) or http(s) (got %q)", u.Scheme))
			}
		}
	}
	if c.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("CMS_RPS must be > 0 (got %g)", c.RequestsPerSecond))
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		errs = append(errs, fmt.Errorf("PROJECT_ID is required"))
	}
	if c.APIKey == "" && c.APIKeySSMParam == "" {
		errs = append(errs, fmt.Errorf("API_KEY or API_KEY_SSM_PARAM is required"))
	}

	// Store
	switch c.Store {
	case StoreMemory:
	case StoreFile:
		if c.StoreDir == "" {
			errs = append(errs, fmt.Errorf("STORE_DIR is required when STORE=file"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("SQLITE_PATH is required when STORE=sqlite"))
		}
	case StoreS3:
		if c.S3Bucket == "" {
			errs = append(errs, fmt.Errorf("S3_BUCKET is required when STORE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be memory|file|sqlite|s3)", c.Store))
	}

	if c.RefreshInterval < time.Minute {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL must be >= 1m (got %s)", c.RefreshInterval))
	}
	if c.RefreshLeeway < 0 {
		errs = append(errs, fmt.Errorf("REFRESH_LEEWAY must be >= 0 (got %s)", c.RefreshLeeway))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NeedsSSM reports whether any secret must be resolved from SSM.
func (c App) NeedsSSM() bool {
	return (c.APIKey == "" && c.APIKeySSMParam != "") ||
		(c.ProjectSecret == "" && c.SecretSSMParam != "")
}

// NeedsAWS reports whether the daemon must load AWS config at startup.
func (c App) NeedsAWS() bool {
	return c.NeedsSSM() || c.Store == StoreS3
}
