package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	contentsync "github.com/keithlinneman/linnemanlabs-contentsync"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/contentapi"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/health"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/prof"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/syncer"
	v "github.com/keithlinneman/linnemanlabs-contentsync/internal/version"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

const component = "contentsyncd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cli > CONTENTSYNC_ env > -config file > defaults
	logf := func(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
	if err := cfg.Load(flag.CommandLine, &conf, os.Args[1:], logf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	if showVersion {
		fmt.Printf("%s %s\n", v.AppName, vi.String())
		os.Exit(0)
	}

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Component:         component,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("version", vi.Version, "commit", vi.ShortCommit())
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing contentsyncd",
		"build", vi.String(),
		"project_id", conf.ProjectID,
		"cms_url", conf.CMSBaseURL,
		"realtime_url", conf.RealtimeURL,
		"store", conf.Store,
		"http_addr", fmt.Sprintf("%s:%d", conf.HTTPHost, conf.HTTPPort),
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"refresh_interval", conf.RefreshInterval.String(),
		"refresh_leeway", conf.RefreshLeeway.String(),
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":        v.AppName,
			"component":  component,
			"version":    vi.Version,
			"commit":     vi.Commit,
			"project_id": conf.ProjectID,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure: the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:    conf.EnableTracing,
		Endpoint:   conf.OTLPEndpoint,
		Insecure:   true,
		Sample:     conf.TraceSample,
		Service:    v.AppName,
		Component:  component,
		Version:    vi.Version,
		Attributes: map[string]string{"contentsync.project_id": conf.ProjectID},
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	var awsCfg *aws.Config
	if conf.NeedsAWS() {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		awsCfg = &c
	}

	if conf.NeedsSSM() {
		res, err := secrets.NewResolverFromConfig(ctx, awsCfg, L)
		if err != nil {
			L.Error(ctx, err, "failed to create SSM resolver")
			os.Exit(1)
		}
		if err := res.Fill(ctx,
			secrets.Field{Name: "api_key", Value: &conf.APIKey, Param: conf.APIKeySSMParam},
			secrets.Field{Name: "project_secret", Value: &conf.ProjectSecret, Param: conf.SecretSSMParam},
		); err != nil {
			L.Error(ctx, err, "failed to resolve credentials from SSM")
			os.Exit(1)
		}
	}

	st, closeStore, err := openStore(ctx, conf, awsCfg, L)
	if err != nil {
		L.Error(ctx, err, "failed to open store", "store", conf.Store)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			L.Error(context.Background(), err, "store close")
		}
	}()

	var hostLanguages func() []string
	if list := conf.HostLanguageList(); list != nil {
		hostLanguages = func() []string { return list }
	}

	client, err := contentsync.New(contentsync.Options{
		BaseURL:           conf.CMSBaseURL,
		RequestsPerSecond: conf.RequestsPerSecond,
		RealtimeURL:       conf.RealtimeURL,
		Store:             st,
		HostLanguages:     hostLanguages,
		DisablePrefetch:   conf.DisablePrefetch,
		UserAgent:         vi.UserAgent(component),
		Logger:            L,
		Metrics:           m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create content client")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Flag(client.Ready, "contentsync: initial sync pending"),
	)

	api, err := contentapi.New(contentapi.Options{
		Engine:      client,
		Logger:      L,
		Metrics:     m,
		ExposeToken: conf.ExposeToken,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create content API")
		os.Exit(1)
	}

	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Host:         conf.HTTPHost,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		StreamRoutes: api.RegisterStreamRoutes,
		Language:     client,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start content API listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// Blocks until the initial sync wave finishes. An authentication
	// failure is retried by the refresher; restored content keeps serving.
	err = client.Configure(ctx, contentsync.Config{
		ProjectID:       conf.ProjectID,
		APIKey:          conf.APIKey,
		DefaultLanguage: conf.DefaultLanguage,
		ProjectSecret:   conf.ProjectSecret,
	})
	var cfgErr *contentsync.ConfigurationError
	switch {
	case err == nil:
		L.Info(ctx, "initial sync complete", "language", client.Language(), "realtime", client.RealtimeState())
	case xerrors.As(err, &cfgErr):
		L.Error(ctx, err, "invalid CMS configuration")
		os.Exit(1)
	default:
		L.Warn(ctx, "initial authentication failed, will retry", "error", err)
	}

	refresher := syncer.NewRefresher(syncer.RefresherOptions{
		Logger:     L,
		Target:     client,
		Interval:   conf.RefreshInterval,
		ExpiryLead: conf.RefreshLeeway,
		Metrics:    m,
	})
	go func() { _ = refresher.Run(ctx) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")
	gate.Set("draining")

	// consumers poll /-/ready; give them a moment to stop calling
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(5 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	client.Close()

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "content API server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}
