package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/shiori/internal/artifact"
	"github.com/zombor/shiori/internal/asset"
	"github.com/zombor/shiori/internal/expense"
	"github.com/zombor/shiori/internal/media"
	"github.com/zombor/shiori/internal/metadata"
	"github.com/zombor/shiori/internal/place"
	"github.com/zombor/shiori/internal/scanning"
	"github.com/zombor/shiori/internal/server"
	"github.com/zombor/shiori/internal/session"
	"github.com/zombor/shiori/internal/submission"
	"github.com/zombor/shiori/internal/trip"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// engineConfig selects and configures the receipt recognition engine
type engineConfig struct {
	kind        *string
	language    *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootFlags := ff.NewFlagSet("shiori")
	debug := rootFlags.BoolLong("debug", "Enable debug logging")
	engine := engineConfig{
		kind:        rootFlags.StringLong("scanner", "gemini", "Receipt scanner engine: 'gemini' or 'ollama'"),
		language:    rootFlags.StringLong("language", scanning.DefaultLanguage, "Receipt recognition language code"),
		geminiKey:   rootFlags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: rootFlags.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		ollamaURL:   rootFlags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: rootFlags.StringLong("ollama-model", "llava", "Ollama vision model name"),
	}

	submitFlags := ff.NewFlagSet("submit").SetParent(rootFlags)
	var (
		submitURL   = submitFlags.StringLong("submit-url", "", "Generation service base URL")
		landmarkURL = submitFlags.StringLong("landmark-url", "", "Landmark lookup service base URL")
		tripPath    = submitFlags.StringLong("trip", "", "Trip details JSON file")
		receiptPath = submitFlags.StringLong("receipt", "", "Receipt image or PDF to import into the allowance ledger")
		receiptURL  = submitFlags.StringLong("receipt-url", "", "Scan the receipt through a remote shiori server instead of a local engine")
		allowance   = submitFlags.StringLong("allowance", "", "JSON file with allowance entries to add to the ledger")
		outDir      = submitFlags.StringLong("out", ".", "Directory the generated document is written to")
		timezone    = submitFlags.StringLong("timezone", "Asia/Tokyo", "Time zone for capture times without an offset and plain trip dates")
		workers     = submitFlags.IntLong("workers", 4, "Concurrent metadata extractions")
		timeout     = submitFlags.DurationLong("timeout", 5*time.Minute, "Overall submission timeout")
	)
	submitCmd := &ff.Command{
		Name:      "submit",
		Usage:     "shiori submit [FLAGS] PHOTO...",
		ShortHelp: "enrich trip photos and a receipt, then submit them for generation",
		Flags:     submitFlags,
		Exec: func(ctx context.Context, args []string) error {
			ctx, cancel := context.WithTimeout(ctx, *timeout)
			defer cancel()
			return runSubmit(ctx, submitOptions{
				photos:      args,
				submitURL:   *submitURL,
				landmarkURL: *landmarkURL,
				tripPath:    *tripPath,
				receiptPath: *receiptPath,
				receiptURL:  *receiptURL,
				allowance:   *allowance,
				outDir:      *outDir,
				timezone:    *timezone,
				workers:     *workers,
				engine:      engine,
			}, stdout)
		},
	}

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		port     = serveFlags.IntLong("port", 8080, "HTTP server port")
		authUser = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "shiori serve [FLAGS]",
		ShortHelp: "serve receipt scanning over HTTP",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runServe(ctx, engine, fmt.Sprintf(":%d", *port), server.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})
		},
	}

	root := &ff.Command{
		Name:        "shiori",
		Usage:       "shiori SUBCOMMAND [FLAGS]",
		ShortHelp:   "build a trip booklet from photos and receipts (version " + version + ")",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{submitCmd, serveCmd},
	}

	if err := root.Parse(args, ff.WithEnvVarPrefix("SHIORI")); err != nil {
		selected := root.GetSelected()
		if selected == nil {
			selected = root
		}
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(selected))
		return err
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(stderr, "%s\n", ffhelp.Command(root))
		}
		return err
	}
	return nil
}

// newEngine initializes the recognition engine selected by the flags
func newEngine(ctx context.Context, cfg engineConfig) (scanning.Engine, error) {
	switch *cfg.kind {
	case "gemini":
		apiKey := *cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini api key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", *cfg.geminiModel)
		return scanning.NewGemini(ctx, apiKey, *cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *cfg.ollamaURL, "model", *cfg.ollamaModel)
		return scanning.NewOllama(*cfg.ollamaURL, *cfg.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid scanner type %q: want gemini or ollama", *cfg.kind)
	}
}

func runServe(ctx context.Context, cfg engineConfig, addr string, auth server.BasicAuth) error {
	engine, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.NewServerWithMux(scanning.NewTextScanner(engine, *cfg.language), auth, reg, http.NewServeMux())
	if auth.Enabled() {
		slog.Info("Basic auth enabled", "user", auth.Username)
	}
	return srv.Start(ctx, addr)
}

type submitOptions struct {
	photos      []string
	submitURL   string
	landmarkURL string
	tripPath    string
	receiptPath string
	receiptURL  string
	allowance   string
	outDir      string
	timezone    string
	workers     int
	engine      engineConfig
}

func runSubmit(ctx context.Context, opts submitOptions, stdout io.Writer) error {
	if len(opts.photos) == 0 {
		return fmt.Errorf("at least one photo is required")
	}
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("loading time zone: %w", err)
	}

	client, err := submission.NewClient(opts.submitURL)
	if err != nil {
		return err
	}
	store, err := artifact.NewLocalStorage(opts.outDir)
	if err != nil {
		return err
	}

	lookup, err := place.NewHTTPLookup(place.LookupConfig{BaseURL: opts.landmarkURL})
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	resolver := place.NewResolverWithDeps(lookup, place.NewMetrics(reg), 0)
	defer logMetrics(reg)

	registry := asset.NewRegistryWithDeps(metadata.NewExtractorInLocation(loc), resolver, opts.workers)
	defer registry.Close()

	var engine scanning.Engine = unavailableEngine{}
	if opts.receiptPath != "" && opts.receiptURL == "" {
		if engine, err = newEngine(ctx, opts.engine); err != nil {
			return err
		}
		defer engine.Close()
	}
	recognizer := scanning.NewRecognizerWithLanguage(engine, *opts.engine.language)
	recognizer.OnChange(func(s scanning.Snapshot) {
		slog.Debug("Receipt recognition", "status", s.Status, "progress", fmt.Sprintf("%.0f%%", s.Progress*100))
	})

	sess := session.New(registry, resolver, recognizer, client)

	blobs := make([]media.Blob, 0, len(opts.photos))
	for _, path := range opts.photos {
		b, err := media.File(path)
		if err != nil {
			return err
		}
		blobs = append(blobs, b)
	}
	added := sess.AddPhotos(blobs)
	slog.Info("Added photos", "count", len(added))

	if opts.tripPath != "" {
		fields, err := trip.Load(opts.tripPath, loc)
		if err != nil {
			return err
		}
		sess.SetTrip(fields)
	}

	if opts.allowance != "" {
		if err := importAllowance(sess, opts.allowance); err != nil {
			return err
		}
	}

	if opts.receiptPath != "" {
		if err := importReceipt(ctx, sess, opts.receiptPath, opts.receiptURL); err != nil {
			return err
		}
	}

	registry.Wait()
	for _, a := range sess.Photos() {
		slog.Debug("Photo ready", "name", a.Blob.Name(), "status", a.Status, "place", a.PlaceName)
	}

	result, err := sess.Submit(ctx)
	if err != nil {
		return err
	}

	name, err := store.Save(artifact.FileName(result.Filename, result.ContentType, time.Now()), result.Data)
	if err != nil {
		return err
	}
	slog.Info("Saved generated document", "file", name, "bytes", len(result.Data))
	fmt.Fprintln(stdout, store.Path(name))
	return nil
}

// importReceipt scans a receipt and saves it as a ledger entry
func importReceipt(ctx context.Context, sess *session.Session, path, remoteURL string) error {
	b, err := media.File(path)
	if err != nil {
		return err
	}

	draft := expense.NewDraft()
	if remoteURL != "" {
		remote, rerr := scanning.NewRemote(remoteURL)
		if rerr != nil {
			return rerr
		}
		err = sess.ScanReceipt(ctx, remote, b, draft)
	} else {
		err = sess.ImportReceipt(ctx, b, draft)
	}
	if err != nil {
		// already reported as a notice; the ledger stays as it was
		return nil
	}

	if err := sess.SaveEntry(draft); err != nil {
		slog.Warn("Receipt not added to the allowance ledger", "receipt", path, "error", err)
	}
	return nil
}

// importAllowance adds entries from a JSON array to the ledger
func importAllowance(sess *session.Session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading allowance file: %w", err)
	}
	var entries []expense.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decoding allowance file: %w", err)
	}

	for i, e := range entries {
		draft := expense.NewDraft()
		draft.Title = e.Title
		draft.Prefill(e.Lines, nil, "")
		if err := sess.SaveEntryAndContinue(draft); err != nil {
			return fmt.Errorf("allowance entry %d: %w", i, err)
		}
	}
	return nil
}

func logMetrics(reg prometheus.Gatherer) {
	families, err := reg.Gather()
	if err != nil {
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			}
			attrs := []any{"metric", mf.GetName(), "value", value}
			for _, l := range m.GetLabel() {
				attrs = append(attrs, l.GetName(), l.GetValue())
			}
			slog.Debug("Place lookups", attrs...)
		}
	}
}

// unavailableEngine stands in when no receipt is recognized locally
type unavailableEngine struct{}

func (unavailableEngine) Recognize(context.Context, []byte, string, string, func(float64)) (string, error) {
	return "", errors.New("no receipt scanner configured")
}

func (unavailableEngine) Close() error { return nil }
