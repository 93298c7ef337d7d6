package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"pagepair/pkg/config"
	"pagepair/pkg/fetch"
	"pagepair/pkg/models"
	"pagepair/pkg/orchestrate"
	"pagepair/pkg/sitemap"
	"pagepair/pkg/storage"
	"pagepair/pkg/utils"
	"pagepair/pkg/watch"
)

const version = "1.0.0"

// adhocCompareKey names the synthetic compare built from -reference/-test
// flags when pairs runs without a configured compare.
const adhocCompareKey = "cli"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "pairs":
		runPairs(os.Args[2:])
	case "discover":
		runDiscover(os.Args[2:])
	case "crawl":
		runCrawl(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-compares":
		runListCompares(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("pagepair %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `pagepair - URL discovery and pairing for visual diff runs

Usage:
  pagepair <command> [options]

Commands:
  pairs          Resolve reference/test URL pairs for configured compares
  discover       Probe a site for sitemaps
  crawl          Crawl sitemaps and print the page URLs they yield
  validate       Validate configuration file
  list-compares  List configured compares
  history        Show stored runs for a compare
  watch          Re-resolve pairs on a fixed interval
  mcp-server     Start MCP server for AI tool integration
  version        Show version info

Run 'pagepair <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadConfigOrDefaults reads configPath when it exists and falls back to
// built-in defaults when it does not. Discover and crawl work without a
// config file; a file that exists but cannot be parsed is still an error.
func loadConfigOrDefaults(configPath string) (*config.AppConfig, error) {
	appCfg := &config.AppConfig{}
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return appCfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, appCfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return appCfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Infof("Setting log level to: %s", level.String())
	}

	return log
}

// newCommandLogger builds a stderr logger for subcommands whose stdout is
// machine-readable output.
func newCommandLogger(logLevelStr string, stderr io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevelStr)
	}
	log.SetLevel(level)
	return log, nil
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	appWarnings, _ := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}

	return appCfg
}

// validateCompareConfigs validates each compare's configuration and keeps the
// validated copy so later stages see trimmed URLs.
func validateCompareConfigs(appCfg *config.AppConfig, compareKeys []string, log *logrus.Logger) {
	for _, key := range compareKeys {
		cmpCfg := appCfg.Compares[key]
		cmpWarnings, err := cmpCfg.Validate()
		if err != nil {
			log.Fatalf("Compare '%s' configuration error: %v", key, err)
		}
		for _, w := range cmpWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Compares[key] = cmpCfg
	}
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// signalContext returns a context cancelled on the first SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "Received signal %v, stopping...\n", sig)
		cancel()
	}()

	return ctx, cancel
}

// redacted hides userinfo passwords for display
func redacted(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Redacted()
	}
	return raw
}

// runPairs handles the pairs subcommand
func runPairs(args []string) {
	fs := flag.NewFlagSet("pairs", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	compareKey := fs.String("compare", "", "Compare key from config (single compare)")
	compares := fs.String("compares", "", "Comma-separated compare keys")
	allCompares := fs.Bool("all-compares", false, "Pair all configured compares")
	referenceURLs := fs.String("reference", "", "Reference URL(s), comma-separated; runs a one-shot compare without a config entry")
	testURLs := fs.String("test", "", "Test URL(s), comma-separated, for a one-shot compare")
	sitemapURL := fs.String("sitemap", "", "Sitemap URL for a one-shot compare")
	crawlFlag := fs.Bool("crawl", false, "Crawl for URLs instead of pairing the lists directly")
	exclude := fs.String("exclude", "", "Comma-separated exclusion regexes for a one-shot compare")
	maxURLs := fs.Int("max-urls", 0, "Cap on kept URLs for a one-shot compare (default 50)")
	mappings := fs.String("mappings", "", "Comma-separated reference:test mappings used verbatim")
	userAgent := fs.String("user-agent", "", "User-Agent override for a one-shot compare")
	outFile := fs.String("out", "", "Write the run manifest JSON to this file (single compare)")
	outDir := fs.String("out-dir", "", "Write one manifest JSON per compare into this directory")
	useCached := fs.Bool("use-cached", false, "Re-emit the last stored manifest instead of re-crawling, when one exists")
	noStore := fs.Bool("no-store", false, "Skip persisting run manifests to the state database")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pagepair pairs [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pagepair pairs -compare prod-vs-staging\n")
		fmt.Fprintf(os.Stderr, "  pagepair pairs -compares prod-vs-staging,prod-vs-dev -out-dir ./pairs\n")
		fmt.Fprintf(os.Stderr, "  pagepair pairs --all-compares\n")
		fmt.Fprintf(os.Stderr, "  pagepair pairs -reference https://example.com -test https://user:pw@staging.example.com -crawl\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	// One-shot mode builds a compare from flags instead of the config file
	var adhoc *config.CompareConfig
	if *referenceURLs != "" || *testURLs != "" || *mappings != "" {
		if *allCompares || *compares != "" || *compareKey != "" {
			fmt.Fprintln(os.Stderr, "Error: -reference/-test/-mappings cannot be combined with configured compares")
			os.Exit(1)
		}
		adhoc = &config.CompareConfig{
			ReferenceURLs:   splitList(*referenceURLs),
			TestURLs:        splitList(*testURLs),
			SitemapURL:      *sitemapURL,
			Crawl:           *crawlFlag,
			URLMappings:     splitList(*mappings),
			ExcludePatterns: splitList(*exclude),
			MaxURLs:         *maxURLs,
			UserAgent:       *userAgent,
		}
	}

	// Determine which compares to run
	var compareKeys []string

	switch {
	case adhoc != nil:
		compareKeys = []string{adhocCompareKey}
	case *allCompares:
		compareKeys = nil // Populated after loading config
	case *compares != "":
		compareKeys = splitList(*compares)
	case *compareKey != "":
		compareKeys = []string{*compareKey}
	default:
		fmt.Fprintln(os.Stderr, "Error: one of -compare, -compares, --all-compares, or -reference/-test is required")
		fs.Usage()
		os.Exit(1)
	}

	executePairs(*configFile, compareKeys, *allCompares, adhoc, *logLevel, *pprofAddr, *outFile, *outDir, *useCached, *noStore)
}

// splitList splits a comma-separated flag value, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// executePairs resolves pairs for the selected compares and emits manifests
func executePairs(configFile string, compareKeys []string, allCompares bool, adhoc *config.CompareConfig, logLevelStr, pprofAddr, outFile, outDir string, useCached, noStore bool) {
	runtime.SetBlockProfileRate(1000)
	runtime.SetMutexProfileFraction(1000)

	log := setupLogger(logLevelStr)

	var appCfg *config.AppConfig
	if adhoc != nil {
		// One-shot runs work without a config file; an existing one still
		// supplies fetch and client defaults.
		var err error
		appCfg, err = loadConfigOrDefaults(configFile)
		if err != nil {
			log.Fatalf("Config error: %v", err)
		}
		appWarnings, _ := appCfg.Validate()
		for _, w := range appWarnings {
			log.Warn(w)
		}
		if appCfg.Compares == nil {
			appCfg.Compares = make(map[string]config.CompareConfig)
		}
		appCfg.Compares[adhocCompareKey] = *adhoc
	} else {
		appCfg = loadAndValidateConfig(configFile, log)
	}
	logAppConfig(appCfg, log)

	// --- Determine compare keys ---
	if allCompares {
		compareKeys = orchestrate.GetAllCompareKeys(appCfg)
		log.Infof("All compares mode: found %d compares", len(compareKeys))
	}

	// --- Validate compare keys ---
	if err := orchestrate.ValidateCompareKeys(appCfg, compareKeys); err != nil {
		log.Fatalf("Invalid compare keys: %v", err)
	}

	validateCompareConfigs(appCfg, compareKeys, log)
	startPprof(pprofAddr, log)

	if outFile != "" && len(compareKeys) > 1 {
		log.Warn("-out applies to a single compare; use -out-dir for multiple. Ignoring -out.")
		outFile = ""
	}
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory '%s': %v", outDir, err)
		}
	}

	// --- Run store ---
	var store storage.RunStore
	if noStore {
		log.Info("Run persistence disabled (-no-store).")
	} else {
		badgerStore, err := storage.NewBadgerStore(context.Background(), appCfg.StateDir, log.WithField("component", "storage"))
		if err != nil {
			log.Fatalf("Failed to open run store: %v", err)
		}
		defer badgerStore.Close()
		store = badgerStore
	}

	hasFailure := false

	// --- Serve stored manifests where allowed ---
	if useCached {
		if store == nil {
			log.Warn("-use-cached requires the state database; running live.")
		} else {
			var remaining []string
			for _, key := range compareKeys {
				status, manifest, err := store.LatestManifest(key)
				// Failed runs are never served from cache
				if err != nil || manifest == nil || status == models.RunStatusFailure {
					remaining = append(remaining, key)
					continue
				}
				log.Infof("Re-emitting stored manifest for '%s' (run %s, %d pairs)", key, manifest.RunID, len(manifest.Pairs))
				if err := emitManifest(manifest, outFile, outDir); err != nil {
					log.Errorf("Failed to write manifest for '%s': %v", key, err)
					hasFailure = true
				}
			}
			compareKeys = remaining
		}
	}

	if len(compareKeys) > 0 {
		// --- Create and run orchestrator ---
		orch := orchestrate.NewOrchestrator(appCfg, compareKeys, store, log)

		// --- Handle signals for graceful shutdown ---
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		go func() {
			sig := <-sigChan
			log.Warnf("Received signal %v, initiating graceful shutdown...", sig)
			orch.Cancel()
		}()

		results := orch.Run()

		// --- Emit manifests & check for failures ---
		for _, r := range results {
			if !r.Success {
				hasFailure = true
			}
			if r.Manifest == nil {
				continue
			}
			if err := emitManifest(r.Manifest, outFile, outDir); err != nil {
				log.Errorf("Failed to write manifest for '%s': %v", r.CompareKey, err)
				hasFailure = true
			}
		}
	}

	if hasFailure {
		os.Exit(1)
	}
}

// emitManifest writes one run manifest as indented JSON to the configured
// destination: a per-compare file under outDir, the single outFile, or stdout.
func emitManifest(manifest *models.RunManifest, outFile, outDir string) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	switch {
	case outDir != "":
		filename := fmt.Sprintf("%s_pairs.json", utils.SanitizeFilename(manifest.CompareKey))
		return os.WriteFile(filepath.Join(outDir, filename), data, 0644)
	case outFile != "":
		return os.WriteFile(outFile, data, 0644)
	default:
		_, err = os.Stdout.Write(data)
		return err
	}
}

// runDiscover handles the discover subcommand
func runDiscover(args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file (optional, defaults apply if absent)")
	siteURL := fs.String("site", "", "Site URL to probe for sitemaps (required)")
	userAgent := fs.String("user-agent", "", "User-Agent override for probe requests")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pagepair discover [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pagepair discover -site https://staging.example.com\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	os.Exit(doDiscover(ctx, *configFile, *siteURL, *userAgent, *logLevel, os.Stdout, os.Stderr))
}

// doDiscover probes a site for sitemaps and lists what it finds.
// Returns exit code (0 = success, 1 = error).
func doDiscover(ctx context.Context, configPath, siteURL, userAgentOverride, logLevelStr string, stdout, stderr io.Writer) int {
	if siteURL == "" {
		fmt.Fprintln(stderr, "Error: -site is required")
		return 1
	}

	log, err := newCommandLogger(logLevelStr, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	appCfg, err := loadConfigOrDefaults(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	warnings, _ := appCfg.Validate()
	for _, w := range warnings {
		log.Debug(w)
	}

	userAgent := userAgentOverride
	if userAgent == "" {
		userAgent = config.GetEffectiveUserAgent(config.CompareConfig{}, *appCfg)
	}

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	rateLimiter := fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, log.WithField("component", "ratelimit"))
	fetcher := fetch.NewFetcher(httpClient, appCfg, rateLimiter, log)
	robots := fetch.NewRobotsHandler(fetcher, log.WithField("component", "robots"))
	discoverer := sitemap.NewDiscoverer(fetcher, robots, *appCfg, log)

	found, err := discoverer.Discover(ctx, siteURL, userAgent)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(found) == 0 {
		fmt.Fprintf(stdout, "No sitemaps found for %s\n", siteURL)
		return 0
	}

	fmt.Fprintf(stdout, "Sitemaps for %s:\n\n", siteURL)
	for _, sm := range found {
		fmt.Fprintf(stdout, "  %s\n", sm)
	}
	return 0
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file (optional, defaults apply if absent)")
	sitemaps := fs.String("sitemap", "", "Comma-separated sitemap URLs to crawl (required)")
	userAgent := fs.String("user-agent", "", "User-Agent override for crawl requests")
	out := fs.String("out", "", "Write URLs to this file instead of stdout")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pagepair crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pagepair crawl -sitemap https://staging.example.com/sitemap.xml\n")
		fmt.Fprintf(os.Stderr, "  pagepair crawl -sitemap https://staging.example.com/sitemap.xml -out urls.txt\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var sitemapURLs []string
	for _, s := range strings.Split(*sitemaps, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			sitemapURLs = append(sitemapURLs, s)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	os.Exit(doCrawl(ctx, *configFile, sitemapURLs, *userAgent, *logLevel, *out, os.Stdout, os.Stderr))
}

// doCrawl walks the given sitemaps and writes every page URL on its own line.
// Returns exit code (0 = success, 1 = error).
func doCrawl(ctx context.Context, configPath string, sitemapURLs []string, userAgentOverride, logLevelStr, outPath string, stdout, stderr io.Writer) int {
	if len(sitemapURLs) == 0 {
		fmt.Fprintln(stderr, "Error: -sitemap is required")
		return 1
	}

	log, err := newCommandLogger(logLevelStr, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	appCfg, err := loadConfigOrDefaults(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	warnings, _ := appCfg.Validate()
	for _, w := range warnings {
		log.Debug(w)
	}

	userAgent := userAgentOverride
	if userAgent == "" {
		userAgent = config.GetEffectiveUserAgent(config.CompareConfig{}, *appCfg)
	}

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	rateLimiter := fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, log.WithField("component", "ratelimit"))
	fetcher := fetch.NewFetcher(httpClient, appCfg, rateLimiter, log)
	crawler := sitemap.NewCrawler(fetcher, *appCfg, log)

	result := crawler.Crawl(ctx, sitemapURLs, userAgent)
	if result.Skipped > 0 {
		log.Warnf("%d sitemap document(s) skipped after errors", result.Skipped)
	}
	if result.Sitemaps == 0 {
		fmt.Fprintln(stderr, "Error: no sitemap could be crawled")
		return 1
	}
	log.Infof("Crawl yielded %d URLs from %d sitemap documents", len(result.URLs), result.Sitemaps)

	var w io.Writer = stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: create %s: %v\n", outPath, err)
			return 1
		}
		defer f.Close()
		w = f
	}
	for _, u := range result.URLs {
		fmt.Fprintln(w, u)
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	compareKey := fs.String("compare", "", "Compare key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pagepair validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, *compareKey, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, compareKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Validate app config
	warnings, _ := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	if compareKey != "" {
		// Validate specific compare
		cmpCfg, ok := appCfg.Compares[compareKey]
		if !ok {
			fmt.Fprintf(stderr, "Error: compare '%s' not found in config\n", compareKey)
			return 1
		}
		cmpWarnings, err := cmpCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", compareKey, err)
			return 1
		}
		for _, w := range cmpWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", compareKey, w)
		}
		fmt.Fprintf(stdout, "OK: Compare '%s' configuration is valid\n", compareKey)
	} else {
		// Validate all compares
		hasError := false
		keys := make([]string, 0, len(appCfg.Compares))
		for k := range appCfg.Compares {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			cmpCfg := appCfg.Compares[key]
			cmpWarnings, err := cmpCfg.Validate()
			if err != nil {
				fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
				hasError = true
				continue
			}
			for _, w := range cmpWarnings {
				fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
			}
			fmt.Fprintf(stdout, "OK: [%s]\n", key)
		}
		if hasError {
			return 1
		}
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListCompares handles the list-compares subcommand
func runListCompares(args []string) {
	fs := flag.NewFlagSet("list-compares", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pagepair list-compares [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doListCompares(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doListCompares lists compares and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListCompares(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Sort keys for consistent output
	keys := make([]string, 0, len(appCfg.Compares))
	for k := range appCfg.Compares {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(stdout, "Compares in %s:\n\n", configPath)
	for _, key := range keys {
		cmp := appCfg.Compares[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		if len(cmp.ReferenceURLs) > 0 {
			fmt.Fprintf(stdout, "    Reference: %s\n", redacted(cmp.ReferenceURLs[0]))
		}
		if len(cmp.TestURLs) > 0 {
			fmt.Fprintf(stdout, "    Test: %s\n", redacted(cmp.TestURLs[0]))
		}
		if len(cmp.TestURLs) > 1 {
			fmt.Fprintf(stdout, "    Test URLs: %d\n", len(cmp.TestURLs))
		}
		if cmp.SitemapURL != "" {
			fmt.Fprintf(stdout, "    Sitemap: %s\n", cmp.SitemapURL)
		}
		if cmp.Crawl {
			fmt.Fprintln(stdout, "    Mode: crawl")
		}
		if len(cmp.URLMappings) > 0 {
			fmt.Fprintf(stdout, "    Mappings: %d\n", len(cmp.URLMappings))
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// runHistory handles the history subcommand
func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	compareKey := fs.String("compare", "", "Compare key to show runs for (required)")
	maxResults := fs.Int("max", 10, "Maximum runs to show")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pagepair history [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *compareKey == "" {
		fmt.Fprintln(os.Stderr, "Error: -compare is required")
		fs.Usage()
		os.Exit(1)
	}

	exitCode := doHistory(*configFile, *compareKey, *maxResults, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doHistory lists stored runs for a compare, newest first.
// Returns exit code (0 = success, 1 = error).
func doHistory(configPath, compareKey string, maxResults int, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	appCfg.Validate()

	// Reads still open the store read-write, so keep logging quiet
	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(logrus.WarnLevel)

	store, err := storage.NewBadgerStore(context.Background(), appCfg.StateDir, log.WithField("component", "storage"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: open run store: %v\n", err)
		return 1
	}
	defer store.Close()

	manifests, err := store.ListManifests(compareKey, maxResults)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(manifests) == 0 {
		fmt.Fprintf(stdout, "No stored runs for compare '%s'.\n", compareKey)
		return 0
	}

	fmt.Fprintf(stdout, "Runs for compare '%s' (newest first):\n\n", compareKey)
	for _, m := range manifests {
		fmt.Fprintf(stdout, "  %s  %s\n", m.StartedAt.Format(time.RFC3339), m.RunID)
		fmt.Fprintf(stdout, "    Status: %s  Strategy: %s  Pairs: %d (%d found, %d kept)\n",
			m.Status, m.Strategy, len(m.Pairs), m.URLsFound, m.URLsKept)
		if m.ErrorCategory != "" {
			fmt.Fprintf(stdout, "    Error category: %s\n", m.ErrorCategory)
		}
		for _, w := range m.Warnings {
			fmt.Fprintf(stdout, "    Warning: %s\n", w)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	compares := fs.String("compares", "", "Comma-separated compare keys (default: all configured compares)")
	intervalStr := fs.String("interval", "1h", "Re-pairing interval (examples: 30m, 1h, 24h, 7d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pagepair watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pagepair watch -interval 6h\n")
		fmt.Fprintf(os.Stderr, "  pagepair watch -compares prod-vs-staging -interval 30m\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	interval, err := watch.ParseInterval(*intervalStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var compareKeys []string
	for _, s := range strings.Split(*compares, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			compareKeys = append(compareKeys, s)
		}
	}

	executeWatch(*configFile, compareKeys, interval, *logLevel)
}

// executeWatch runs the re-pairing scheduler until interrupted
func executeWatch(configFile string, compareKeys []string, interval time.Duration, logLevelStr string) {
	log := setupLogger(logLevelStr)
	appCfg := loadAndValidateConfig(configFile, log)

	if len(compareKeys) == 0 {
		compareKeys = orchestrate.GetAllCompareKeys(appCfg)
	}
	if len(compareKeys) == 0 {
		log.Fatal("No compares configured; nothing to watch.")
	}

	if err := orchestrate.ValidateCompareKeys(appCfg, compareKeys); err != nil {
		log.Fatalf("Invalid compare keys: %v", err)
	}
	validateCompareConfigs(appCfg, compareKeys, log)

	store, err := storage.NewBadgerStore(context.Background(), appCfg.StateDir, log.WithField("component", "storage"))
	if err != nil {
		log.Fatalf("Failed to open run store: %v", err)
	}
	defer store.Close()

	// Watch can run for days; reclaim value log space as manifests are superseded
	gcCtx, cancelGC := context.WithCancel(context.Background())
	defer cancelGC()
	go store.RunGC(gcCtx, appCfg.DBGCInterval)

	sched := watch.NewScheduler(appCfg, compareKeys, interval, store, log.WithField("component", "watch"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal %v, stopping watch...", sig)
		sched.Stop()
	}()

	log.Infof("Watch mode: re-pairing every %s", watch.FormatInterval(interval))
	if err := sched.Run(); err != nil {
		log.Fatalf("Watch scheduler error: %v", err)
	}
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: DefaultDelay:%v, StateDir:%s, ProbeConcurrency:%d",
		appCfg.DefaultDelayPerHost, appCfg.StateDir, appCfg.MaxProbeConcurrency)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config Limits: FetchTimeout:%v, RedirectHops:%d, SitemapDepth:%d, SitemapBytes:%d",
		appCfg.FetchTimeout, appCfg.MaxRedirectHops, appCfg.MaxSitemapDepth, appCfg.MaxSitemapBytes)
	log.Infof("Global Config Fallback: LinkCrawl:%t, MaxLinkPages:%d",
		appCfg.LinkFallback, appCfg.MaxLinkCrawlPages)
	log.Infof("Global Config HTTP Client: MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout,
		appCfg.HTTPClientSettings.DialerTimeout)
}
