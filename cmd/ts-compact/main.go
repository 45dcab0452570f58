// ts-compact checkpoints a ts-load data directory: opening its journal,
// registering the two managed data files, and committing — flushing
// and fsyncing every buffered append and leaving the journal holding
// exactly one CREATE_FILE+TRUNCATE pair per file, per
// original_source/ts-compact.c.
//
// Given --series, it additionally rewrites the named series' raw
// (key,time,value) triplets into a single offset/score block via the
// tagged codec, recording the result in a compaction manifest — the
// "compaction" a columnar store performs, layered on top of the
// original tool's plain checkpoint behavior.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/flashdb/cantera/internal/config"
	"github.com/flashdb/cantera/internal/engine"
	"github.com/flashdb/cantera/internal/manifest"
	"github.com/flashdb/cantera/internal/progress"
	"github.com/flashdb/cantera/internal/queryserver"
	"github.com/flashdb/cantera/internal/stats"
	"github.com/flashdb/cantera/internal/sysexit"
	"github.com/flashdb/cantera/internal/version"
	"github.com/flashdb/cantera/internal/workpool"
)

type result struct {
	series string
	scores []float64
	err    error
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a JSON config file (internal/config.Config); unset fields fall back to defaults")
	dataDir := flag.String("data", "", "data directory, overriding the config file [/tmp/ts]")
	seriesFlag := flag.String("series", "", "comma-separated series keys to rewrite into compact offset/score blocks")
	showProgress := flag.Bool("progress", false, "show a progress bar while compacting")
	showCorr := flag.Bool("corr", false, "print the pairwise Pearson correlation of compacted series' scores")
	verify := flag.Bool("verify", false, "decode each compacted block back and check its record count before committing")
	serveAddr := flag.String("serve", "", "after compacting, listen on ADDR and serve SERIES/SCAN/STATS/HOT/CORR queries until interrupted")
	showVersion := flag.Bool("version", false, "display version information and exit")
	showHelp := flag.Bool("help", false, "display this help and exit")
	flag.Parse()

	if *showHelp {
		fmt.Print("Usage: ts-compact [OPTION]...\n\n" +
			"      --config=FILE config file with worker/backlog/data-dir defaults\n" +
			"      --data=DIR    data directory [/tmp/ts]\n" +
			"      --series=K,.. rewrite these series into compact offset/score blocks\n" +
			"      --progress    show a progress bar while compacting\n" +
			"      --corr        print pairwise correlation of compacted series\n" +
			"      --verify      decode each compacted block back and check its record count\n" +
			"      --serve=ADDR  serve queries over TCP after compacting, until interrupted\n" +
			"      --help        display this help and exit\n" +
			"      --version     display version information\n")
		return sysexit.OK
	}
	if *showVersion {
		fmt.Printf("ts-compact %s (built %s)\n", version.Version, version.BuildTime)
		return sysexit.OK
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = envOrDefault("TS_DATA_DIR", "/tmp/ts")
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ts-compact: loading config: %v\n", err)
			return sysexit.IOErr
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	e, err := engine.NewWithConfig(cfg.DataDir, "input.data", "input.index", cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ts-compact: %v\n", err)
		return sysexit.IOErr
	}
	defer e.Close()

	var series []string
	if *seriesFlag != "" {
		for _, s := range strings.Split(*seriesFlag, ",") {
			if s = strings.TrimSpace(s); s != "" {
				series = append(series, s)
			}
		}
	}

	if len(series) == 0 {
		// original_source/ts-compact.c's entire behavior: open the
		// journal, open the two data files, commit.
		if err := e.Commit(); err != nil {
			fmt.Fprintf(os.Stderr, "ts-compact: commit: %v\n", err)
			return sysexit.IOErr
		}
		return sysexit.OK
	}

	mgr, err := manifest.NewManager(cfg.DataDir + "/manifests")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ts-compact: %v\n", err)
		return sysexit.IOErr
	}

	var bar *progress.Bar
	if *showProgress {
		bar = progress.New(os.Stderr, "compact", int64(len(series)))
	}

	results := make([]result, len(series))

	var wg sync.WaitGroup
	pool := workpool.New(cfg.CompactionWorkers, cfg.CompactionBacklog)
	for i, s := range series {
		i, s := i, s
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			count, cerr := compactOne(e, s, mgr, *verify)
			if bar != nil {
				bar.Add(1)
			}
			if cerr != nil {
				results[i] = result{series: s, err: cerr}
				return
			}
			records, serr := e.Scan(s)
			if serr != nil {
				results[i] = result{series: s, err: serr}
				return
			}
			scores := make([]float64, len(records))
			for j, r := range records {
				scores[j] = float64(r.Value)
			}
			results[i] = result{series: s, scores: scores}
			_ = count
		})
	}
	wg.Wait()
	pool.Close()
	if bar != nil {
		bar.Finish()
	}

	exitCode := sysexit.OK
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "ts-compact: %s: %v\n", r.series, r.err)
			// Most errors reaching this point are journal I/O failures;
			// a decode error from --verify classifies itself via
			// ExitKind (offsetscore.Error.ExitKind) to sysexit.DataErr.
			exitCode = sysexit.FromErrorOr(r.err, sysexit.IOErr)
		}
	}
	if exitCode != sysexit.OK {
		return exitCode
	}

	if *showCorr {
		printCorrelations(results)
	}

	if err := e.Commit(); err != nil {
		fmt.Fprintf(os.Stderr, "ts-compact: commit: %v\n", err)
		return sysexit.IOErr
	}

	if *serveAddr != "" {
		return serveUntilInterrupted(*serveAddr, e)
	}
	return sysexit.OK
}

// serveUntilInterrupted starts a queryserver.Server over e and blocks
// until SIGINT/SIGTERM, then closes it. It does not commit; run's
// deferred Engine.Close does that once this returns.
func serveUntilInterrupted(addr string, e *engine.Engine) int {
	srv := queryserver.New(addr, e)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "ts-compact: serve: %v\n", err)
			return sysexit.IOErr
		}
	case <-sigCh:
		if err := srv.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "ts-compact: serve: %v\n", err)
			return sysexit.IOErr
		}
	}
	return sysexit.OK
}

func compactOne(e *engine.Engine, s string, mgr *manifest.Manager, verify bool) (int, error) {
	j := e.Journal()
	compactHandle, err := j.Open(s + ".compact")
	if err != nil {
		return 0, err
	}
	compactIndexHandle, err := j.Open(s + ".compact.index")
	if err != nil {
		return 0, err
	}

	oldSize, err := j.Size(compactHandle)
	if err != nil {
		return 0, err
	}

	count, err := e.Compact(s, compactHandle, compactIndexHandle)
	if err != nil {
		return 0, err
	}

	if verify && count > 0 {
		decoded, err := e.ScanCompacted(compactHandle, nil)
		if err != nil {
			return 0, fmt.Errorf("verify %s: %w", s, err)
		}
		if len(decoded) != count {
			return 0, fmt.Errorf("verify %s: decoded %d records, wrote %d", s, len(decoded), count)
		}
	}

	newSize, err := j.Size(compactHandle)
	if err != nil {
		return 0, err
	}

	if _, err := mgr.Create(&manifest.Manifest{
		Series:      s,
		RecordCount: count,
		OldBytes:    oldSize,
		NewBytes:    newSize,
	}); err != nil {
		return 0, err
	}
	return count, nil
}

func printCorrelations(results []result) {
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			a, b := results[i], results[j]
			n := min(len(a.scores), len(b.scores))
			if n < 2 {
				continue
			}
			c, err := stats.Correlation(a.scores[:n], b.scores[:n])
			if err != nil {
				continue
			}
			fmt.Printf("%s~%s: %.4f\n", a.series, b.series, c)
		}
	}
}

