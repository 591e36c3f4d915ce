// Command jsonline reads and appends records of a JSONL file through its
// positional index.
//
// Usage:
//
//	jsonline [flags] append  <path> <json>
//	jsonline [flags] extend  <path>          (records on stdin)
//	jsonline [flags] get     <path> <ordinal>...
//	jsonline [flags] len     <path>
//	jsonline [flags] cat     <path>
//	jsonline [flags] rebuild <path>
//	jsonline [flags] check   <path>
//	jsonline [flags] schema
//	jsonline -catalog <db> catalog ls
//	jsonline -catalog <db> catalog rm <path>...
//
// <path> names the data file with or without its .json suffix; the index is
// kept next to it as .json.idx unless -catalog is set.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/jsonline/internal/config"
	"github.com/maruel/jsonline/internal/jsonline"
	"github.com/maruel/jsonline/internal/posindex"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "jsonline: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "", "YAML configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	cacheSize := flag.Int("cache-size", jsonline.DefaultCacheSize, "Decoded records kept in memory, 0 disables the cache")
	compression := flag.String("compression", "gzip", "Index artifact compression (gzip, zstd, snappy, none)")
	nonStringKeys := flag.Bool("non-string-keys", false, "Accept maps with integer keys")
	noSync := flag.Bool("no-sync", false, "Skip fsync after writes")
	catalog := flag.String("catalog", "", "bbolt database storing index artifacts instead of .idx files")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// Flags set explicitly win over the configuration file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *logLevel
		case "cache-size":
			cfg.CacheSize = *cacheSize
		case "compression":
			cfg.Compression = *compression
		case "non-string-keys":
			cfg.NonStringKeys = *nonStringKeys
		case "no-sync":
			cfg.NoSync = *noSync
		case "catalog":
			cfg.Catalog = *catalog
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	ll.Set(level)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}
	cmd, args := args[0], args[1:]
	if cmd == "schema" {
		if len(args) != 0 {
			return fmt.Errorf("unknown arguments: %v", args)
		}
		raw, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Printf("%s\n", raw)
		return err
	}
	if cmd == "catalog" {
		if cfg.Catalog == "" {
			return errors.New("catalog: -catalog is not set")
		}
		c, err := posindex.OpenBoltStore(cfg.Catalog)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(os.Stdout)
		err = runCatalog(c, args, w)
		return errors.Join(err, w.Flush(), c.Close())
	}
	if len(args) == 0 {
		return fmt.Errorf("%s: missing path", cmd)
	}
	path, args := args[0], args[1:]

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	opts.Logger = logger
	if cfg.Catalog != "" {
		c, err := posindex.OpenBoltStore(cfg.Catalog)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Close(); err != nil {
				slog.Error("Failed to close catalog", "err", err)
			}
		}()
		opts.Artifacts = c
	}

	w := bufio.NewWriter(os.Stdout)
	err = jsonline.With(path, opts, func(s *jsonline.Store[json.RawMessage]) error {
		return run(ctx, cmd, s, args, os.Stdin, w)
	})
	return errors.Join(err, w.Flush())
}

func run(ctx context.Context, cmd string, s *jsonline.Store[json.RawMessage], args []string, stdin io.Reader, w io.Writer) error {
	switch cmd {
	case "append":
		if len(args) != 1 {
			return errors.New("append: want exactly one JSON value")
		}
		return s.Append(json.RawMessage(args[0]))
	case "extend":
		if len(args) != 0 {
			return fmt.Errorf("unknown arguments: %v", args)
		}
		records, err := readRecords(ctx, stdin)
		if err != nil {
			return err
		}
		if err := s.ExtendSlice(records); err != nil {
			return err
		}
		slog.Info("Appended", "records", len(records), "total", s.Len())
		return nil
	case "get":
		if len(args) == 0 {
			return errors.New("get: missing ordinal")
		}
		for _, a := range args {
			i, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("get: invalid ordinal %q: %w", a, err)
			}
			v, err := s.Get(i)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s\n", v); err != nil {
				return err
			}
		}
		return nil
	case "len":
		n, err := s.Count()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, n)
		return err
	case "cat":
		for v, err := range s.All() {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s\n", v); err != nil {
				return err
			}
		}
		return nil
	case "rebuild":
		return s.RebuildIndex()
	case "check":
		if err := s.Check(); err != nil {
			return err
		}
		st, err := s.Stats()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "ok: %d records, %d bytes\n", st.Records, st.DataSize)
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// runCatalog lists or removes the index artifacts held in a bbolt catalog.
func runCatalog(c *posindex.BoltStore, args []string, w io.Writer) error {
	if len(args) == 0 {
		return errors.New("catalog: missing subcommand (ls, rm)")
	}
	switch args[0] {
	case "ls":
		names, err := c.Names()
		if err != nil {
			return err
		}
		for _, n := range names {
			if _, err := fmt.Fprintln(w, n); err != nil {
				return err
			}
		}
		return nil
	case "rm":
		if len(args) == 1 {
			return errors.New("catalog rm: missing path")
		}
		for _, p := range args[1:] {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", p, err)
			}
			// Artifacts are keyed like the sidecar file would be named.
			_, index := jsonline.Paths(abs)
			if err := c.Delete(index); err != nil {
				return err
			}
			slog.Info("Removed index", "path", index)
		}
		return nil
	default:
		return fmt.Errorf("catalog: unknown subcommand %q", args[0])
	}
}

// readRecords reads a stream of JSON values, typically one per line.
func readRecords(ctx context.Context, r io.Reader) ([]json.RawMessage, error) {
	var out []json.RawMessage
	d := json.NewDecoder(bufio.NewReader(r))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var v json.RawMessage
		if err := d.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("failed to read record %d: %w", len(out), err)
		}
		out = append(out, v)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: jsonline [flags] <append|extend|get|len|cat|rebuild|check> <path> [args]\n       jsonline schema\n       jsonline -catalog <db> catalog <ls|rm> [path...]\n\n")
	flag.PrintDefaults()
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("jsonline %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
