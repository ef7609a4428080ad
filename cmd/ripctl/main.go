// Command ripctl submits links to a tune-ripper server, follows the job and
// downloads the converted MP3 files.
//
// Usage:
//
//	ripctl [-server URL] [-source youtube|soundcloud] [-browser NAME] [-out DIR] [-links FILE] URL...
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MimeLyc/tune-ripper/internal/artifact"
	"github.com/MimeLyc/tune-ripper/internal/client"
	"github.com/MimeLyc/tune-ripper/internal/jobs"
)

const defaultServer = "http://localhost:5001"

type options struct {
	server   string
	source   string
	browser  string
	outDir   string
	links    string
	interval time.Duration
	urls     []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "ripctl:", err)
		}
		os.Exit(1)
	}
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	server := os.Getenv("RIPPER_URL")
	if server == "" {
		server = defaultServer
	}

	var opts options
	fs := flag.NewFlagSet("ripctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.server, "server", server, "server base URL (env RIPPER_URL)")
	fs.StringVar(&opts.source, "source", "youtube", "link source: youtube or soundcloud")
	fs.StringVar(&opts.browser, "browser", "", "browser to read cookies from")
	fs.StringVar(&opts.outDir, "out", ".", "directory for downloaded files")
	fs.StringVar(&opts.links, "links", "", "file with one link per line")
	fs.DurationVar(&opts.interval, "interval", client.DefaultPollInterval, "status poll interval")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.urls = fs.Args()
	if opts.links != "" {
		fromFile, err := readLinks(opts.links)
		if err != nil {
			return options{}, err
		}
		opts.urls = append(opts.urls, fromFile...)
	}
	if len(opts.urls) == 0 {
		fs.Usage()
		return options{}, errors.New("no links given")
	}
	return opts, nil
}

func readLinks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open links file: %w", err)
	}
	defer f.Close()

	var links []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			links = append(links, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read links file: %w", err)
	}
	return links, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		return err
	}

	c := client.New(opts.server, client.WithPollInterval(opts.interval))
	jobID, err := c.Submit(ctx, client.SubmitRequest{
		URLs:    opts.urls,
		Source:  opts.source,
		Browser: opts.browser,
	})
	if err != nil {
		var rejected *client.RejectedError
		if errors.As(err, &rejected) {
			return errors.New(rejected.Message)
		}
		return fmt.Errorf("could not connect to the server: %w", err)
	}
	fmt.Fprintf(stdout, "job %s: %d link(s) submitted\n", jobID, len(opts.urls))

	last := ""
	report, err := c.Poll(ctx, jobID, func(r jobs.StatusReport) {
		if line := client.Progress(r); line != last {
			fmt.Fprintf(stdout, "job %s: %s\n", jobID, line)
			last = line
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("lost connection to the server: %w", err)
	}

	for _, msg := range report.Errors {
		fmt.Fprintf(stderr, "failed: %s\n", msg)
	}
	if report.Status == jobs.StatusError {
		if report.Error != "" {
			return errors.New(report.Error)
		}
		return errors.New("an error occurred during conversion")
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, file := range report.Files {
		dest, err := download(ctx, c, jobID, file, report.Total, opts.outDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "saved %s\n", dest)
	}
	return nil
}

func download(ctx context.Context, c *client.Client, jobID, file string, total int, outDir string) (string, error) {
	dest, err := freePath(outDir, client.DisplayName(file, total))
	if err != nil {
		return "", err
	}
	tmp := dest + ".part"

	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := c.Download(ctx, jobID, file, out); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("download %s: %w", file, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return dest, os.Rename(tmp, dest)
}

// freePath returns outDir/name.mp3, or "name (2).mp3", "name (3).mp3"...
// when that file already exists, so items with the same title all survive.
func freePath(outDir, name string) (string, error) {
	for n := 1; ; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s (%d)", name, n)
		}
		path := filepath.Join(outDir, candidate+artifact.Extension)
		_, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("check %s: %w", path, err)
		}
	}
}
