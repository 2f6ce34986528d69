// Command lightspeed bulk-loads CSV streams into relational tables. Each job
// file names a source (local file, HTTP URL, S3 object or a query against an
// origin database) and a destination table; the stream is moved in chunks
// inside a single destination transaction that commits only when every byte
// was accepted.
//
// Usage:
//
//	lightspeed -config jobs/orders.yaml [-config jobs/items.json] [-parallel 2]
//	lightspeed -list jobs/nightly.txt -metrics-backend pushgateway
//	lightspeed -config jobs/orders.yaml -validate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/config"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource/file"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/metrics"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/metrics/datadog"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/metrics/prompush"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/version"

	// register all backends with the storage factory.
	_ "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/all"
)

// pathList is a repeatable -config flag.
type pathList []string

func (p *pathList) String() string { return strings.Join(*p, ",") }

func (p *pathList) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*p = append(*p, s)
		}
	}
	return nil
}

// main loads one or more job files, validates them, installs the metrics
// backend and runs the loads, at most -parallel at a time.
func main() {
	var (
		configs           pathList
		listPath          string
		metricsBackendFlg string
		pushGatewayURLFlg string
		datadogAddrFlg    string
		parallel          int
		validate          bool
		showVersion       bool
	)

	flag.Var(&configs, "config", "job config path (JSON or YAML); repeatable or comma-separated")
	flag.StringVar(&listPath, "list", "", "file with one job config path per line")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddrFlg, "datadog-addr", "", "DogStatsD address (env DD_DOGSTATSD_ADDR)")
	flag.IntVar(&parallel, "parallel", 1, "number of jobs loaded concurrently")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&showVersion, "version", false, "print the version and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	if showVersion {
		fmt.Println(version.AppName(""))
		return
	}

	paths, err := collectPaths(configs, listPath)
	if err != nil {
		fatalf("%v", err)
	}

	useRegisteredKinds()
	jobs, err := loadJobs(paths, os.Stderr)
	if err != nil {
		fatalf("%v", err)
	}
	if validate {
		log.Printf("Configuration is valid: %s (storage kinds: %s)",
			strings.Join(paths, ", "), strings.Join(config.KnownStorageKinds, ", "))
		return
	}

	backendName := firstNonEmpty(metricsBackendFlg, os.Getenv("METRICS_BACKEND"), "none")
	metricsJob := "lightspeed"
	if len(jobs) == 1 && jobs[0].Job != "" {
		metricsJob = jobs[0].Job
	}
	if b := newMetricsBackend(backendName, metricsJob,
		firstNonEmpty(pushGatewayURLFlg, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091"),
		firstNonEmpty(datadogAddrFlg, os.Getenv("DD_DOGSTATSD_ADDR"), "127.0.0.1:8125"),
		*verbose,
	); b != nil {
		metrics.SetBackend(b)
		defer func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	failed := runAll(ctx, jobs, parallel, *verbose)
	if *verbose {
		log.Printf("completed %d job(s) in %s", len(jobs), time.Since(start).Truncate(time.Millisecond))
	}
	if failed > 0 {
		// Deferred flush and stop would be skipped by os.Exit.
		stop()
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
		log.Printf("%d of %d job(s) failed", failed, len(jobs))
		os.Exit(1)
	}
}

// useRegisteredKinds makes validation accept exactly the storage kinds whose
// backends are linked into this binary.
func useRegisteredKinds() {
	if kinds := storage.ListKinds(); len(kinds) > 0 {
		config.KnownStorageKinds = kinds
	}
}

// collectPaths merges -config values with the entries of the -list file.
func collectPaths(configs []string, listPath string) ([]string, error) {
	paths := append([]string(nil), configs...)
	if listPath != "" {
		listed, err := file.ReadList(listPath)
		if err != nil {
			return nil, fmt.Errorf("read job list: %w", err)
		}
		paths = append(paths, listed...)
	}
	if len(paths) == 0 {
		return nil, errors.New("no job configured: use -config or -list")
	}
	return paths, nil
}

// loadJobs loads and validates every path, printing issues to w. Any error
// severity issue fails the whole run before a single job starts.
func loadJobs(paths []string, w io.Writer) ([]config.Pipeline, error) {
	jobs := make([]config.Pipeline, 0, len(paths))
	invalid := 0
	for _, path := range paths {
		p, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if p.Job == "" {
			p.Job = jobNameFromPath(path)
		}
		issues := config.ValidatePipeline(p)
		for _, iss := range issues {
			fmt.Fprintf(w, "%s: %s: %s: %s\n", path, iss.Severity, iss.Path, iss.Message)
		}
		if config.HasErrors(issues) {
			invalid++
		}
		jobs = append(jobs, p)
	}
	if invalid > 0 {
		return nil, fmt.Errorf("configuration is invalid: %d of %d job file(s) have errors", invalid, len(paths))
	}
	return jobs, nil
}

// runAll runs jobs with at most parallel in flight and returns how many
// failed. A failed job does not stop the others.
func runAll(ctx context.Context, jobs []config.Pipeline, parallel int, verbose bool) int {
	var g errgroup.Group
	g.SetLimit(max(parallel, 1))

	failed := make([]bool, len(jobs))
	for i, p := range jobs {
		g.Go(func() error {
			if verbose {
				log.Printf("job: start name=%s source=%s storage=%s table=%s",
					p.Job, p.Source.Kind, p.Storage.Kind, p.Storage.DB.Table)
			}
			res, err := runJob(ctx, p)
			if err != nil {
				log.Printf("job: failed name=%s err=%v", p.Job, err)
				failed[i] = true
				return nil
			}
			log.Printf("job: done name=%s chunks=%d bytes=%d rows=%d elapsed=%s",
				p.Job, res.Chunks, res.Bytes, res.Rows, res.Elapsed.Truncate(time.Millisecond))
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return n
}

// newMetricsBackend returns the backend for name, or nil when metrics are
// disabled or the backend cannot be built.
func newMetricsBackend(name, job, gatewayURL, datadogAddr string, verbose bool) metrics.Backend {
	switch name {
	case "pushgateway":
		b, err := prompush.NewBackend(job, gatewayURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return nil
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gatewayURL, name, job)
		return b

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       datadogAddr,
			GlobalTags: []string{"service:lightspeed", "version:" + version.String()},
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return nil
		}
		log.Printf("metrics: addr=%v, backend=%v", datadogAddr, name)
		return b

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", name)
		}
		return nil

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", name)
		return nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
