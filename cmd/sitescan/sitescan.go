// Command sitescan runs one site analysis from the command line and writes
// the report document, the interactive scene page, and a top-down scatter
// plot of the classified positions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/skylens-data/flightpath.report/internal/config"
	"github.com/skylens-data/flightpath.report/internal/fsutil"
	"github.com/skylens-data/flightpath.report/internal/geo"
	"github.com/skylens-data/flightpath.report/internal/geoplot"
	"github.com/skylens-data/flightpath.report/internal/remotefs"
	"github.com/skylens-data/flightpath.report/internal/scene"
	"github.com/skylens-data/flightpath.report/internal/security"
	"github.com/skylens-data/flightpath.report/internal/site"
	"github.com/skylens-data/flightpath.report/internal/sshconfig"
	"github.com/skylens-data/flightpath.report/internal/version"
)

var (
	target      = flag.String("host", "", "SFTP host, an alias from ~/.ssh/config, or user@host")
	port        = flag.Int("port", 0, "SFTP port (defaults to ssh config or 22)")
	username    = flag.String("user", "", "SFTP username (defaults to ssh config)")
	passwordEnv = flag.String("password-env", "SITESCAN_PASSWORD", "Environment variable holding the SFTP password")
	sitePath    = flag.String("path", "", "Remote site root, e.g. /homes/jsmith/10012345")
	outDir      = flag.String("out", ".", "Output directory")
	configPath  = flag.String("config", "", "Engine config JSON (built-in defaults when empty)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// reportDoc is the on-disk analysis document, the same composite the API
// returns.
type reportDoc struct {
	Analysis       *site.Analysis     `json:"analysis"`
	Classification geo.Classification `json:"classification"`
	Scene          *scene.Scene       `json:"scene"`
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("sitescan", version.String())
		return
	}
	if *target == "" || *sitePath == "" {
		flag.Usage()
		os.Exit(2)
	}
	password := os.Getenv(*passwordEnv)
	if password == "" {
		log.Fatalf("password environment variable %s is empty", *passwordEnv)
	}

	cfg := config.EmptyEngineConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadEngineConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	params := dialParams(password)
	if params.Username == "" {
		log.Fatalf("no username: pass -user, user@host, or add a User line to ~/.ssh/config")
	}

	if err := run(cfg, remotefs.SFTPDialer{}, fsutil.OSFileSystem{}, params, *sitePath, *outDir); err != nil {
		log.Fatalf("%v", err)
	}
}

// dialParams assembles the endpoint from the flags, then lets ~/.ssh/config
// fill in whatever they left open.
func dialParams(password string) remotefs.DialParams {
	user, host := sshconfig.SplitTarget(*target)
	if user == "" {
		user = *username
	}
	params := remotefs.DialParams{
		Host:     host,
		Port:     *port,
		Username: user,
		Secret:   password,
	}

	entry, err := sshconfig.Resolve(host)
	if err != nil {
		log.Fatalf("reading ssh config: %v", err)
	}
	params = entry.Apply(params)
	if params.Port <= 0 {
		params.Port = remotefs.DefaultPort
	}
	return params
}

// run performs the analysis and writes the three artifacts under dir.
func run(cfg *config.EngineConfig, dialer remotefs.Dialer, fs fsutil.FileSystem, params remotefs.DialParams, root, dir string) error {
	reg := remotefs.RegisteredSession{ID: "sitescan", Params: params}

	// No cache: the one-shot run builds and tears down its own pool.
	analyzer := site.NewAnalyzer(cfg, dialer, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetAnalyzeTimeout())
	defer cancel()

	analysis, err := analyzer.Analyze(ctx, reg, root)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	classification := geo.Classify(analysis.Points(), geo.OptionsFrom(cfg))
	sc := scene.Build(analysis, classification)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	base := outputBase(analysis)

	reportPath := filepath.Join(dir, base+"_report.json")
	if err := writeReport(fs, reportPath, reportDoc{analysis, classification, sc}); err != nil {
		return err
	}

	scenePath := filepath.Join(dir, base+"_scene.html")
	if err := writeScene(fs, scenePath, sc); err != nil {
		return err
	}

	plotPath := filepath.Join(dir, base+"_site.png")
	if err := writePlot(fs, plotPath, sc.Title, classification); err != nil {
		return err
	}

	log.Printf("analyzed %d images (%d outliers) in %.1fs",
		analysis.TotalImages, classification.Outliers, analysis.ElapsedSeconds)
	log.Printf("wrote %s, %s, %s", reportPath, scenePath, plotPath)
	return nil
}

// outputBase derives the artifact filename stem from the site identity, or
// from the root's basename for sites outside the standard layout.
func outputBase(a *site.Analysis) string {
	if a.SiteID != "" {
		return security.SanitizeFilename("site_" + a.SiteID)
	}
	return security.SanitizeFilename(filepath.Base(a.Root))
}

func writeReport(fs fsutil.FileSystem, path string, doc reportDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := fs.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func writeScene(fs fsutil.FileSystem, path string, sc *scene.Scene) error {
	w, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := scene.RenderHTML(sc, w); err != nil {
		w.Close()
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return w.Close()
}

func writePlot(fs fsutil.FileSystem, path, title string, c geo.Classification) error {
	w, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := geoplot.WritePNGTo(w, title, c); err != nil {
		w.Close()
		return fmt.Errorf("plotting %s: %w", path, err)
	}
	return w.Close()
}
