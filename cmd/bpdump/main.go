// bpdump prints binary property lists, and the page text of Safari
// webarchives, in a readable form.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	flags "github.com/jessevdk/go-flags"

	plist "github.com/zdypro888/bplist"
	"github.com/zdypro888/bplist/webarchive"
)

type options struct {
	Format           string `short:"f" long:"format" choice:"text" choice:"json" choice:"yaml" choice:"pretty" default:"text" description:"output format"`
	HTML             bool   `long:"html" description:"print the text of a webarchive's main resource"`
	Deidentify       bool   `long:"deidentify" description:"strip account details from --html output"`
	MaxDepth         int    `long:"max-depth" default:"512" description:"maximum container nesting"`
	TruncatedTrailer bool   `long:"truncated-trailer" description:"only honour the low 32 bits of trailer fields"`
	Output           string `short:"o" long:"output" description:"write to FILE instead of stdout" value-name:"FILE"`
	Verbose          bool   `short:"v" long:"verbose" description:"log the document layout"`
	Args             struct {
		Files []string `positional-arg-name:"FILE" required:"1"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	os.Exit(bpdump())
}

func bpdump() int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			return 0
		}
		return 1
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	out := io.Writer(os.Stdout)
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			logger.Error("cannot create output", "path", opts.Output, "err", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	if err := run(&opts, out, logger); err != nil {
		logger.Error("bpdump failed", "err", err)
		return 1
	}
	return 0
}

func run(opts *options, out io.Writer, logger *slog.Logger) error {
	decodeOpts := []plist.Option{plist.WithMaxDepth(opts.MaxDepth), plist.WithLogger(logger)}
	if opts.TruncatedTrailer {
		decodeOpts = append(decodeOpts, plist.WithTruncatedTrailer())
	}
	if opts.Verbose {
		decodeOpts = append(decodeOpts, plist.WithDebug())
	}

	for _, path := range opts.Args.Files {
		buf, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := dumpFile(opts, out, buf, decodeOpts); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func dumpFile(opts *options, out io.Writer, buf []byte, decodeOpts []plist.Option) error {
	if opts.HTML {
		text, err := webarchive.MainResourceText(buf, decodeOpts...)
		if err != nil {
			return err
		}
		if opts.Deidentify {
			if text, err = webarchive.Deidentify(text); err != nil {
				return err
			}
		}
		_, err = io.WriteString(out, text)
		return err
	}

	v, err := plist.Parse(buf, decodeOpts...)
	if err != nil {
		return err
	}
	return render(out, opts.Format, v)
}
