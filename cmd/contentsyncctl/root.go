package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	contentsync "github.com/keithlinneman/linnemanlabs-contentsync"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	v "github.com/keithlinneman/linnemanlabs-contentsync/internal/version"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

const component = "contentsyncctl"

// options holds the persistent flags. Defaults come from the same
// CONTENTSYNC_ variables contentsyncd reads.
type options struct {
	cmsURL        string
	realtimeURL   string
	projectID     string
	apiKey        string
	projectSecret string
	language      string
	storeDir      string
	logLevel      string
	timeout       time.Duration
}

func envOr(key, def string) string {
	if s, ok := os.LookupEnv("CONTENTSYNC_" + key); ok {
		return s
	}
	return def
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           component,
		Short:         "Resolve and watch CMS content from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.cmsURL, "cms-url", envOr("CMS_URL", ""), "CMS origin serving /api/sdk")
	pf.StringVar(&opts.realtimeURL, "realtime-url", envOr("REALTIME_URL", ""), "change feed websocket url (watch only)")
	pf.StringVar(&opts.projectID, "project-id", envOr("PROJECT_ID", ""), "CMS project id")
	pf.StringVar(&opts.apiKey, "api-key", envOr("API_KEY", ""), "CMS api key")
	pf.StringVar(&opts.projectSecret, "project-secret", envOr("PROJECT_SECRET", ""), "project secret for live updates (watch only)")
	pf.StringVar(&opts.language, "language", "", "preferred language code")
	pf.StringVar(&opts.storeDir, "store-dir", "", "persist cache and session under this directory (default in memory)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "debug|info|warn|error (logs go to stderr)")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "limit for authentication and the initial sync")

	root.AddCommand(
		resolveCmd(opts),
		watchCmd(opts),
		versionCmd(),
	)
	return root
}

// connect builds a client and runs Configure, which returns once the
// initial sync is done.
func connect(ctx context.Context, cmd *cobra.Command, opts *options, live bool) (*contentsync.Client, error) {
	if opts.cmsURL == "" {
		return nil, xerrors.New("--cms-url (or CONTENTSYNC_CMS_URL) is required")
	}

	lvl, err := log.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, err
	}
	L, err := log.New(log.Options{
		App:       v.AppName,
		Component: component,
		Level:     lvl,
		Writer:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	var st contentsync.Store
	if opts.storeDir != "" {
		if st, err = contentsync.NewFileStore(opts.storeDir); err != nil {
			return nil, err
		}
	}

	var hostLanguages func() []string
	if opts.language != "" {
		lang := opts.language
		hostLanguages = func() []string { return []string{lang} }
	}

	co := contentsync.Options{
		BaseURL:       opts.cmsURL,
		Store:         st,
		HostLanguages: hostLanguages,
		// one-shot lookups never render images
		DisablePrefetch: true,
		UserAgent:       v.Get().UserAgent(component),
		Logger:          L,
	}
	secret := ""
	if live {
		co.RealtimeURL = opts.realtimeURL
		secret = opts.projectSecret
	}
	client, err := contentsync.New(co)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if err := client.Configure(cctx, contentsync.Config{
		ProjectID:     opts.projectID,
		APIKey:        opts.apiKey,
		ProjectSecret: secret,
	}); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
