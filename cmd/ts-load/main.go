// ts-load reads CSV-like time-series samples from stdin and appends
// them to a journal-managed data/index file pair.
//
// Usage:
//
//	ts-load [OPTION]...
//
// Flags:
//
//	--delimiter=DELIMITER  set input delimiter [,]
//	--date-format=FORMAT   use provided date format [%Y-%m-%d %H:%M:%S]
//	--date=DATE            use DATE as timestamp
//	--date-from-path=PATH  get timestamp from PATH's mtime
//	--key=KEY              use KEY as key
//	--interval=INTERVAL    sample interval if both --date and --key are given
//	--data=DIR             data directory [/tmp/ts]
//	--help                 display this help and exit
//	--version              display version information
//
// Ported from original_source/ts-load.c's getopt_long-based CLI and its
// character-at-a-time parse_data state machine.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/flashdb/cantera/internal/config"
	"github.com/flashdb/cantera/internal/engine"
	"github.com/flashdb/cantera/internal/sysexit"
	"github.com/flashdb/cantera/internal/tsformat"
	"github.com/flashdb/cantera/internal/version"
)

const defaultDateFormat = "%Y-%m-%d %H:%M:%S"

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
	delimiter := flag.String("delimiter", envOrDefault("TS_DELIMITER", ","), "field separator, single byte")
	dateFormat := flag.String("date-format", envOrDefault("TS_DATE_FORMAT", defaultDateFormat), "strptime-style date format")
	dateStr := flag.String("date", "", "fixed timestamp for all records")
	dateFromPath := flag.String("date-from-path", "", "use mtime(path) as timestamp for all records")
	key := flag.String("key", "", "fixed key for all records")
	interval := flag.Int64("interval", 1, "timestamp step per record when both --date and --key are fixed")
	configPath := flag.String("config", "", "path to a JSON config file (internal/config.Config); unset fields fall back to defaults")
	dataDir := flag.String("data", "", "data directory, overriding the config file [/tmp/ts]")
	showVersion := flag.Bool("version", false, "display version information and exit")
	showHelp := flag.Bool("help", false, "display this help and exit")
	flag.Parse()

	if *showHelp {
		fmt.Printf("Usage: ts-load [OPTION]...\n\n"+
			"      --delimiter=DELIMITER  set input delimiter [%s]\n"+
			"      --date-format=FORMAT   use provided date format [%s]\n"+
			"      --date=DATE            use DATE as timestamp\n"+
			"      --date-from-path=PATH  get timestamp from PATH's mtime\n"+
			"      --key=KEY              use KEY as key\n"+
			"      --interval=INTERVAL    sample interval if both --date and --key are\n"+
			"                             given\n"+
			"      --config=FILE          config file with data-dir/buffer defaults\n"+
			"      --data=DIR             data directory [/tmp/ts]\n"+
			"      --help                 display this help and exit\n"+
			"      --version              display version information\n",
			*delimiter, defaultDateFormat)
		return sysexit.OK
	}

	if *showVersion {
		fmt.Printf("ts-load %s (built %s)\n", version.Version, version.BuildTime)
		return sysexit.OK
	}

	if len(*delimiter) != 1 {
		fmt.Fprintln(os.Stderr, "ts-load: --delimiter must be exactly one ASCII character")
		return sysexit.Usage
	}
	delim := (*delimiter)[0]

	var (
		hasTime  bool
		hasKey   bool
		fixedKey string
		baseTime uint64
	)

	if *key != "" {
		hasKey = true
		fixedKey = *key
	}

	switch {
	case *dateFromPath != "" && *dateStr != "":
		fmt.Fprintln(os.Stderr, "ts-load: --date and --date-from-path are mutually exclusive")
		return sysexit.Usage

	case *dateFromPath != "":
		info, err := os.Stat(*dateFromPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ts-load: could not stat %q: %v\n", *dateFromPath, err)
			return sysexit.Unavailable
		}
		baseTime = uint64(info.ModTime().Unix())
		hasTime = true

	case *dateStr != "":
		t, err := tsformat.Parse(*dateFormat, *dateStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ts-load: %v\n", err)
			return sysexit.Usage
		}
		baseTime = uint64(t.Unix())
		hasTime = true
	}

	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "ts-load: --interval must be positive")
		return sysexit.Usage
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = envOrDefault("TS_DATA_DIR", "/tmp/ts")
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ts-load: loading config: %v\n", err)
			return sysexit.IOErr
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	e, err := engine.NewWithConfig(cfg.DataDir, "input.data", "input.index", cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ts-load: %v\n", err)
		return sysexit.IOErr
	}
	defer e.Close()

	p := &parser{
		delimiter: delim,
		format:    *dateFormat,
		hasKey:    hasKey,
		key:       fixedKey,
		hasTime:   hasTime,
		time:      baseTime,
		interval:  uint64(*interval),
		engine:    e,
	}

	if err := p.run(os.Stdin); err != nil {
		if code, ok := err.(exitError); ok {
			fmt.Fprintf(os.Stderr, "ts-load: %v\n", code.err)
			return code.code
		}
		fmt.Fprintf(os.Stderr, "ts-load: %v\n", err)
		return sysexit.IOErr
	}

	if err := e.Commit(); err != nil {
		fmt.Fprintf(os.Stderr, "ts-load: commit: %v\n", err)
		return sysexit.IOErr
	}

	return sysexit.OK
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

// parseState mirrors original_source/ts-load.c's enum parse_state: the
// parser walks the input once, field by field, rather than splitting
// lines into a slice first.
type parseState int

const (
	parseKey parseState = iota
	parseDate
	parseValue
)

// parser implements the same one-pass, three-field state machine as
// ts-load.c's parse_data, adapted to Go's bufio.Reader instead of a
// raw mmap'd buffer.
type parser struct {
	delimiter byte
	format    string

	hasKey bool
	key    string

	hasTime bool
	time    uint64

	interval uint64

	engine *engine.Engine

	state      parseState
	fieldBuf   []byte
	recordKey  string
	recordTime uint64
}

func (p *parser) run(r io.Reader) error {
	if p.hasKey {
		p.recordKey = p.key
	}
	if p.hasTime {
		p.recordTime = p.time
	}
	switch {
	case !p.hasKey:
		p.state = parseKey
	case !p.hasTime:
		p.state = parseDate
	default:
		p.state = parseValue
	}

	br := bufio.NewReaderSize(r, 1<<16)
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			if len(p.fieldBuf) > 0 {
				return exitError{sysexit.DataErr, fmt.Errorf("unexpected end of input mid-record")}
			}
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.feed(b); err != nil {
			return err
		}
	}
}

func (p *parser) feed(b byte) error {
	switch p.state {
	case parseKey:
		if b == p.delimiter {
			p.recordKey = string(p.fieldBuf)
			p.fieldBuf = p.fieldBuf[:0]
			if p.hasTime {
				p.state = parseValue
			} else {
				p.state = parseDate
			}
			return nil
		}
		p.fieldBuf = append(p.fieldBuf, b)
		return nil

	case parseDate:
		if b == p.delimiter {
			t, err := tsformat.Parse(p.format, string(p.fieldBuf))
			if err != nil {
				return exitError{sysexit.DataErr, err}
			}
			p.recordTime = uint64(t.Unix())
			p.fieldBuf = p.fieldBuf[:0]
			p.state = parseValue
			return nil
		}
		p.fieldBuf = append(p.fieldBuf, b)
		return nil

	case parseValue:
		if b == '\r' {
			return nil
		}
		if b == '\n' {
			s := string(p.fieldBuf)
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return exitError{sysexit.DataErr, fmt.Errorf("unable to parse value %q: %w", s, err)}
			}
			p.fieldBuf = p.fieldBuf[:0]

			if err := p.engine.Append(engine.RawRecord{
				Key:   p.recordKey,
				Time:  p.recordTime,
				Value: float32(v),
			}); err != nil {
				return exitError{sysexit.IOErr, err}
			}

			switch {
			case !p.hasKey:
				p.state = parseKey
			case !p.hasTime:
				p.state = parseDate
			default:
				p.state = parseValue
				p.recordTime += p.interval
			}
			return nil
		}
		p.fieldBuf = append(p.fieldBuf, b)
		return nil
	}
	return nil
}
