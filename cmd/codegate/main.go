// Command codegate is the local LLM gateway: it intercepts outbound chat
// completion traffic, redacts secrets and PII before it leaves the machine,
// flags malicious/deprecated/archived package references, and routes each
// request to a provider endpoint per workspace mux rules.
//
// Three listeners run side by side:
//
//	gateway-port    clear-HTTP traffic under per-provider path prefixes
//	mitm-port       HTTPS-CONNECT traffic, TLS-terminated via a local CA
//	management-port JSON control plane (workspaces, provider endpoints, audit)
//
// Upstream proxy chaining (e.g. a corporate proxy) is automatic: the
// gateway's outbound transport reads HTTP_PROXY / HTTPS_PROXY / NO_PROXY from
// the environment, the same as the teacher's net/http.ProxyFromEnvironment
// usage.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/syntax-syndicate/codegate-alt/internal/audit"
	"github.com/syntax-syndicate/codegate-alt/internal/config"
	"github.com/syntax-syndicate/codegate-alt/internal/extract"
	"github.com/syntax-syndicate/codegate-alt/internal/gateway"
	"github.com/syntax-syndicate/codegate-alt/internal/logger"
	"github.com/syntax-syndicate/codegate-alt/internal/management"
	"github.com/syntax-syndicate/codegate-alt/internal/metrics"
	"github.com/syntax-syndicate/codegate-alt/internal/mitm"
	"github.com/syntax-syndicate/codegate-alt/internal/mux"
	"github.com/syntax-syndicate/codegate-alt/internal/packageindex"
	"github.com/syntax-syndicate/codegate-alt/internal/pipeline"
	"github.com/syntax-syndicate/codegate-alt/internal/provider"
	"github.com/syntax-syndicate/codegate-alt/internal/redact"
	"github.com/syntax-syndicate/codegate-alt/internal/workspace"
)

// configPathFlag pulls --config out of the command line before cobra's own
// flag set exists, since the file it names has to be read before Config's
// remaining fields (and their CLI overrides) can be bound to anything.
func configPathFlag(args []string) string {
	fs := pflag.NewFlagSet("codegate-config-prescan", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	var path string
	fs.StringVar(&path, "config", "", "path to a YAML config file")
	fs.Parse(args) //nolint:errcheck // unknown flags are expected and ignored here; the real parse happens in cobra
	return path
}

func main() {
	cfg, err := config.Load(configPathFlag(os.Args[1:]))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "codegate",
		Short: "Local LLM gateway: redaction, package intelligence, and workspace muxing in front of any provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(newValidateCmd(cfg))
	root.AddCommand(newGenerateCACmd(cfg))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newValidateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the loaded config (file + env + flags) and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("config OK: gateway_port=%d mitm_port=%d management_port=%d provider_endpoints=%d\n",
				cfg.GatewayPort, cfg.MITMPort, cfg.ManagementPort, len(cfg.ProviderEndpoints))
			return nil
		},
	}
}

func newGenerateCACmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-ca",
		Short: "Generate (or reuse) the interception CA and print trust-install instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := mitm.LoadOrGenerateCA(cfg.CACertFile, cfg.CAKeyFile)
			return err
		},
	}
}

func runServe(cfg *config.Config) error {
	log := logger.New("codegate", cfg.LogLevel, cfg.LogFormat)

	ca, err := mitm.LoadOrGenerateCA(cfg.CACertFile, cfg.CAKeyFile)
	if err != nil {
		return fmt.Errorf("load/generate interception CA: %w", err)
	}

	auditSink, err := audit.Open(cfg.AuditDBFile)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditSink.Close() //nolint:errcheck // best-effort close on shutdown

	m := metrics.New()

	providers := provider.NewRegistry()
	for _, ep := range cfg.ProviderEndpoints {
		providers.Upsert(ep)
	}

	workspaces := workspace.New(cfg.WorkspacesFile)
	muxRouter := mux.New(providers)
	extractor := extract.New()
	packages := packageindex.New(float32(cfg.PackageSimilarityFloor))

	cache := redact.NewClassificationCache(cfg.PIICacheFile, cfg.PIICacheCapacity)
	pii := redact.NewDetector(redact.DetectorConfig{
		OllamaEndpoint:      cfg.OllamaEndpoint,
		OllamaModel:         cfg.OllamaModel,
		UseAI:               cfg.UseAIDetection,
		AIThreshold:         cfg.AIConfidence,
		OllamaMaxConcurrent: cfg.OllamaMaxConcurrent,
		Cache:               cache,
	})
	defer pii.Close() //nolint:errcheck // best-effort close on shutdown

	var signatures *redact.SignatureCatalog
	if cfg.SignatureCatalogFile != "" {
		signatures, err = redact.LoadSignatureCatalog(cfg.SignatureCatalogFile)
		if err != nil {
			return fmt.Errorf("load signature catalog: %w", err)
		}
	} else {
		signatures = redact.DefaultSignatureCatalog()
	}

	gw := gateway.New()
	gw.Engine = pipeline.NewEngine()
	gw.Providers = providers
	gw.Workspaces = workspaces
	gw.Store = redact.NewStore()
	gw.Signatures = signatures
	gw.PII = pii
	gw.Extractor = extractor
	gw.Packages = packages
	gw.Mux = muxRouter
	gw.Audit = auditSink
	gw.Metrics = m
	gw.Log = log
	gw.CA = ca

	mgmt := management.New(providers, workspaces, auditSink, m, log, cfg.ManagementToken)

	servers := []*http.Server{
		{
			Addr:              fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.GatewayPort),
			Handler:           gw.ClearHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		{
			Addr:              fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.MITMPort),
			Handler:           gw.ConnectHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		{
			Addr:              fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.ManagementPort),
			Handler:           mgmt.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	log.Infof("startup", "gateway_port=%d mitm_port=%d management_port=%d", cfg.GatewayPort, cfg.MITMPort, cfg.ManagementPort)

	errs := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errs <- fmt.Errorf("%s: %w", srv.Addr, err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Infof("shutdown", "signal received, shutting down")
	case err := <-errs:
		log.Errorf("listener_failed", "%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("shutdown_error", "%s: %v", srv.Addr, err)
		}
	}
	return nil
}
