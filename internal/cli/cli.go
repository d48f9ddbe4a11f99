// Package cli provides the command-line interface with injectable io.Writer for testing.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"gopkg.in/yaml.v3"

	"github.com/mcdonaldj/sitedrop/internal/app"
	"github.com/mcdonaldj/sitedrop/internal/config"
	"github.com/mcdonaldj/sitedrop/internal/deploy"
	"github.com/mcdonaldj/sitedrop/internal/deployerr"
)

const shutdownTimeout = 30 * time.Second

// ConfigService provides configuration operations for the CLI.
type ConfigService interface {
	Load() (*config.Config, error)
	Save(cfg *config.Config) error
	ConfigPath() (string, error)
	DefaultConfig() (*config.Config, error)
}

// DeployService provides deployment operations for the CLI.
type DeployService interface {
	Deploy(ctx context.Context, req deploy.Request) (*deploy.Result, error)
	Prepare(ctx context.Context, archive []byte) (*deploy.Prepared, error)
}

// ServerRunner runs the HTTP service until shutdown and returns the exit code.
type ServerRunner interface {
	Run(cfg *config.Config) int
}

// CLI represents the command-line interface with injectable dependencies.
type CLI struct {
	Out     io.Writer // Standard output
	Err     io.Writer // Standard error
	Version string    // Application version
	Args    []string  // Command arguments (like os.Args)

	// Exit function for testability (defaults to os.Exit)
	Exit func(code int)

	// Injectable dependencies (nil means use defaults)
	ConfigSvc ConfigService
	DeploySvc DeployService
	Server    ServerRunner

	// Color functions (can be disabled for testing)
	green  func(a ...interface{}) string
	yellow func(a ...interface{}) string
	cyan   func(a ...interface{}) string
	gray   func(a ...interface{}) string
	red    func(a ...interface{}) string
}

// New creates a new CLI with default settings.
func New(version string) *CLI {
	return &CLI{
		Out:     os.Stdout,
		Err:     os.Stderr,
		Version: version,
		Args:    os.Args,
		Exit:    os.Exit,
		green:   color.New(color.FgGreen, color.Bold).SprintFunc(),
		yellow:  color.New(color.FgYellow).SprintFunc(),
		cyan:    color.New(color.FgCyan).SprintFunc(),
		gray:    color.New(color.FgHiBlack).SprintFunc(),
		red:     color.New(color.FgRed).SprintFunc(),
	}
}

// NewForTesting creates a CLI configured for testing (no colors, captured output).
func NewForTesting(out, errOut io.Writer, args []string) *CLI {
	noColor := func(a ...interface{}) string { return fmt.Sprint(a...) }
	return &CLI{
		Out:     out,
		Err:     errOut,
		Version: "test",
		Args:    args,
		Exit:    func(code int) {},
		green:   noColor,
		yellow:  noColor,
		cyan:    noColor,
		gray:    noColor,
		red:     noColor,
	}
}

// defaultConfigService wraps the config package functions.
type defaultConfigService struct{}

func (d *defaultConfigService) Load() (*config.Config, error)          { return config.Load() }
func (d *defaultConfigService) Save(cfg *config.Config) error          { return cfg.Save() }
func (d *defaultConfigService) ConfigPath() (string, error)            { return config.ConfigPath() }
func (d *defaultConfigService) DefaultConfig() (*config.Config, error) { return config.DefaultConfig(), nil }

// defaultServer wires the app and serves until SIGINT/SIGTERM.
type defaultServer struct {
	logOut io.Writer
}

func (d *defaultServer) Run(cfg *config.Config) int {
	a, err := app.New(cfg, app.Options{LogOut: d.logOut})
	if err != nil {
		fmt.Fprintf(d.logOut, "Error: %v\n", err)
		return 1
	}
	a.SweepWorkspaces()

	srv := a.NewServer()
	if err := srv.Start(); err != nil {
		a.Logger.Error("could not start HTTP server", "error", err)
		_ = a.Close()
		return 1
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				if err := srv.Stop(ctx); err != nil {
					return err
				}
				return a.Close()
			},
		},
	)
	return <-wait
}

// Helper methods to get the service or default
func (c *CLI) configSvc() ConfigService {
	if c.ConfigSvc != nil {
		return c.ConfigSvc
	}
	return &defaultConfigService{}
}

// deploySvc returns the injected service, or wires one from cfg. The
// returned function releases it.
func (c *CLI) deploySvc(cfg *config.Config) (DeployService, func(), error) {
	if c.DeploySvc != nil {
		return c.DeploySvc, func() {}, nil
	}
	a, err := app.New(cfg, app.Options{LogOut: c.Err})
	if err != nil {
		return nil, nil, err
	}
	return a.Service, func() { _ = a.Close() }, nil
}

func (c *CLI) server() ServerRunner {
	if c.Server != nil {
		return c.Server
	}
	return &defaultServer{logOut: c.Err}
}

// Run executes the CLI with the configured arguments.
func (c *CLI) Run() {
	if len(c.Args) < 2 {
		fmt.Fprintln(c.Out, "No command specified. Use 'sitedrop help' for usage.")
		return
	}

	switch c.Args[1] {
	case "serve":
		c.RunServe()
	case "deploy":
		c.RunDeploy()
	case "inspect":
		c.RunInspect()
	case "init":
		c.InitConfig()
	case "config":
		c.ShowConfig()
	case "version", "-v", "--version":
		fmt.Fprintf(c.Out, "sitedrop v%s\n", c.Version)
	case "help", "-h", "--help":
		c.PrintUsage()
	default:
		fmt.Fprintf(c.Err, "Unknown command: %s\n", c.Args[1])
		c.PrintUsage()
		c.Exit(1)
	}
}

// PrintUsage prints the help message.
func (c *CLI) PrintUsage() {
	fmt.Fprintln(c.Out, `sitedrop - Incremental Static Site Deployment

Usage:
  sitedrop serve [--listen=ADDR]           Run the HTTP deployment service
  sitedrop deploy <site.zip> [--api-key=KEY]
                                           Deploy a zip archive as a new site
  sitedrop inspect <site.zip>              Validate an archive and print its manifest
  sitedrop init                            Create default config file
  sitedrop config                          Show effective configuration
  sitedrop version, -v                     Show version
  sitedrop help, -h                        Show this help

Config: ~/.sitedrop/config.yaml (override with SITEDROP_CONFIG)
Token:  NETLIFY_PAT`)
}

// InitConfig creates the default config file.
func (c *CLI) InitConfig() {
	svc := c.configSvc()
	path, err := svc.ConfigPath()
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(c.Out, "Config already exists at %s\n", path)
		return
	}

	cfg, err := svc.DefaultConfig()
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}
	if err := svc.Save(cfg); err != nil {
		fmt.Fprintf(c.Err, "Error saving config: %v\n", err)
		c.Exit(1)
		return
	}
	fmt.Fprintf(c.Out, "Created config at %s\n", path)
}

// ShowConfig prints the effective configuration with secrets masked.
func (c *CLI) ShowConfig() {
	svc := c.configSvc()
	cfg, err := svc.Load()
	if err != nil {
		fmt.Fprintf(c.Err, "Error loading config: %v\n", err)
		c.Exit(1)
		return
	}
	path, err := svc.ConfigPath()
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}

	shown := *cfg
	if shown.API.Token != "" {
		shown.API.Token = "********"
	}
	if len(shown.Auth.APIKeys) > 0 {
		shown.Auth.APIKeys = []string{fmt.Sprintf("(%d keys)", len(cfg.Auth.APIKeys))}
	}
	if shown.RedisURL != "" {
		shown.RedisURL = maskURL(shown.RedisURL)
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}

	fmt.Fprintf(c.Out, "%s %s\n\n", c.cyan("Config:"), path)
	fmt.Fprint(c.Out, string(data))
	if cfg.API.Token == "" {
		fmt.Fprintf(c.Out, "\n%s no API token set (api.token or NETLIFY_PAT)\n", c.yellow("!"))
	}
}

// RunServe starts the HTTP service.
func (c *CLI) RunServe() {
	cfg, err := c.configSvc().Load()
	if err != nil {
		fmt.Fprintf(c.Err, "Error loading config: %v\n", err)
		c.Exit(1)
		return
	}
	for _, arg := range c.Args[2:] {
		if strings.HasPrefix(arg, "--listen=") {
			cfg.Server.Listen = strings.TrimPrefix(arg, "--listen=")
		}
	}
	if cfg.API.Token == "" {
		fmt.Fprintf(c.Err, "%s no API token set; remote calls will be rejected\n", c.yellow("!"))
	}

	fmt.Fprintf(c.Out, "%s Serving on %s\n", c.cyan("=>"), cfg.Server.Listen)
	fmt.Fprintln(c.Out, "  POST /deploy             - Deploy a zip archive (zip_file)")
	fmt.Fprintln(c.Out, "  GET  /api/health         - Health check")
	fmt.Fprintln(c.Out, "  GET  /api/v1/deploys/:id - Deployment record")
	fmt.Fprintln(c.Out, "  GET  /metrics            - Prometheus metrics")

	if code := c.server().Run(cfg); code != 0 {
		c.Exit(code)
	}
}

// RunDeploy deploys a local archive.
func (c *CLI) RunDeploy() {
	if len(c.Args) < 3 {
		fmt.Fprintln(c.Out, "Usage: sitedrop deploy <site.zip> [--api-key=KEY]")
		c.Exit(1)
		return
	}

	path := c.Args[2]
	req := deploy.Request{}
	for _, arg := range c.Args[3:] {
		if strings.HasPrefix(arg, "--api-key=") {
			req.APIKey = strings.TrimPrefix(arg, "--api-key=")
			req.KeySupplied = true
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(c.Err, "Error reading archive: %v\n", err)
		c.Exit(1)
		return
	}
	req.Archive = data

	cfg, err := c.configSvc().Load()
	if err != nil {
		fmt.Fprintf(c.Err, "Error loading config: %v\n", err)
		c.Exit(1)
		return
	}
	svc, release, err := c.deploySvc(cfg)
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(c.Out, "%s Deploying %s...\n", c.cyan("=>"), path)
	res, err := svc.Deploy(ctx, req)
	if err != nil {
		c.printFailure(err)
		c.Exit(1)
		return
	}

	fmt.Fprintf(c.Out, "%s %s\n", c.green("*"), res.Message)
	fmt.Fprintf(c.Out, "  URL:      %s\n", c.cyan(res.URL))
	fmt.Fprintf(c.Out, "  Site:     %s %s\n", res.SiteName, c.gray("("+res.SiteID+")"))
	fmt.Fprintf(c.Out, "  Deploy:   %s\n", res.DeployID)
	fmt.Fprintf(c.Out, "  Files:    %d total, %s uploaded, %s reused\n",
		res.Files,
		c.yellow(fmt.Sprintf("%d", res.Uploaded)),
		c.gray(fmt.Sprintf("%d", res.Files-res.Required)))
	fmt.Fprintf(c.Out, "  Duration: %s\n", res.Duration.Round(time.Millisecond))
}

func (c *CLI) printFailure(err error) {
	p := deployerr.ToPayload(err)
	fmt.Fprintf(c.Err, "%s %s [%s/%s]\n", c.red("x"), p.Message, p.Category, p.Code)
	if p.Detail != "" {
		fmt.Fprintf(c.Err, "  Remote: %s", p.Detail)
		if p.RemoteStatus != 0 {
			fmt.Fprintf(c.Err, " (HTTP %d)", p.RemoteStatus)
		}
		fmt.Fprintln(c.Err)
	}
}

// RunInspect validates an archive and prints the manifest it would send.
func (c *CLI) RunInspect() {
	if len(c.Args) < 3 {
		fmt.Fprintln(c.Out, "Usage: sitedrop inspect <site.zip>")
		c.Exit(1)
		return
	}

	path := c.Args[2]
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(c.Err, "Error reading archive: %v\n", err)
		c.Exit(1)
		return
	}

	cfg, err := c.configSvc().Load()
	if err != nil {
		fmt.Fprintf(c.Err, "Error loading config: %v\n", err)
		c.Exit(1)
		return
	}
	svc, release, err := c.deploySvc(cfg)
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}
	defer release()

	p, err := svc.Prepare(context.Background(), data)
	if err != nil {
		c.printFailure(err)
		c.Exit(1)
		return
	}
	defer p.Workspace.Release()

	fmt.Fprintf(c.Out, "Manifest for %s:\n\n", c.cyan(path))
	fmt.Fprintf(c.Out, "  %-40s %10s %s\n", "PATH", "SIZE", "SHA1")
	fmt.Fprintf(c.Out, "  %-40s %10s %s\n", "----", "----", "----")
	for _, e := range p.Manifest.Entries {
		fmt.Fprintf(c.Out, "  %-40s %10s %s\n", e.Path, FormatSize(e.Size), c.gray(e.Digest))
	}

	fmt.Fprintln(c.Out)
	fmt.Fprintf(c.Out, "%s %d files, %s\n", c.green("*"), p.Manifest.Len(), FormatSize(p.Manifest.TotalBytes()))
	switch {
	case p.Tree.RootDocument == "":
		fmt.Fprintf(c.Out, "%s no HTML file; the site has no root document\n", c.yellow("!"))
	case p.Tree.Created:
		fmt.Fprintf(c.Out, "%s %s created from %s\n", c.yellow("+"), p.Tree.RootDocument, p.Tree.Source)
	}
	if p.Tree.Flattened != "" {
		fmt.Fprintf(c.Out, "%s top-level directory %s flattened\n", c.yellow("+"), p.Tree.Flattened)
	}
}

// FormatSize formats bytes as human-readable string.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// maskURL hides the userinfo of a connection URL.
func maskURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "****" + raw[at:]
}
