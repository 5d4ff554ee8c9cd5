package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"example.com/h1conn/internal/config"
	"example.com/h1conn/internal/h1"
	"example.com/h1conn/internal/logger"
)

var (
	configFilePath string
	probeAddr      string
	probeTarget    string
	probeTimeout   time.Duration
)

func main() {
	flag.StringVar(&configFilePath, "config", "", "Path to the configuration file (JSON, TOML or YAML)")
	flag.StringVar(&probeAddr, "probe", "", "Optional host:port to send one GET request to with the resolved options")
	flag.StringVar(&probeTarget, "target", "/", "Request target used by -probe")
	flag.DurationVar(&probeTimeout, "timeout", 10*time.Second, "Overall deadline for -probe")
	flag.Parse()

	if configFilePath == "" {
		fmt.Fprintln(os.Stderr, "Error: Configuration file path must be provided via -config flag.")
		flag.Usage()
		os.Exit(1)
	}
	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		log.Fatalf("Error getting absolute path for config file %s: %v", configFilePath, err)
	}

	cfg, err := config.LoadConfig(absConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", absConfigPath, err)
	}
	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.CloseLogFiles()

	opts, err := h1.OptionsFromConfig(cfg.HTTP1)
	if err != nil {
		appLogger.Error("Invalid HTTP/1 options", logger.LogFields{"error": err.Error()})
		os.Exit(1)
	}
	printOptions(os.Stdout, opts)

	if probeAddr == "" {
		return
	}
	if err := probe(os.Stdout, probeAddr, probeTarget, opts, appLogger); err != nil {
		appLogger.Error("Probe failed", logger.LogFields{"addr": probeAddr, "error": err.Error()})
		os.Exit(1)
	}
}

func printOptions(w io.Writer, opts h1.Options) {
	readSize := "adaptive"
	if opts.ReadBufExactSize > 0 {
		readSize = humanize.IBytes(uint64(opts.ReadBufExactSize))
	}
	fmt.Fprintln(w, "configuration OK")
	fmt.Fprintf(w, "  keep_alive:         %t\n", opts.KeepAlive)
	fmt.Fprintf(w, "  allow_half_close:   %t\n", opts.AllowHalfClose)
	fmt.Fprintf(w, "  title_case_headers: %t\n", opts.TitleCaseHeaders)
	fmt.Fprintf(w, "  date_header:        %t\n", opts.DateHeader)
	fmt.Fprintf(w, "  max_buf_size:       %s\n", humanize.IBytes(uint64(opts.MaxBufSize)))
	fmt.Fprintf(w, "  read_buf_size:      %s\n", readSize)
	fmt.Fprintf(w, "  write_strategy:     %s\n", opts.WriteStrategy)
	fmt.Fprintf(w, "  max_headers:        %d\n", opts.MaxHeaders)
}

// probe performs a single GET over a fresh connection driven by the client
// engine and reports the status and body size.
func probe(w io.Writer, addr, target string, opts h1.Options, lg *logger.Logger) error {
	nc, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer nc.Close()
	if err := nc.SetDeadline(time.Now().Add(probeTimeout)); err != nil {
		return err
	}

	opts.KeepAlive = false
	conn := h1.NewConn(nc, h1.Client, lg, opts)
	conn.WriteHead(&h1.MessageHead{
		Method: http.MethodGet,
		Target: target,
		Header: http.Header{"Host": {addr}, "User-Agent": {"h1check"}},
	}, h1.BodyNone)
	if err := conn.TakeError(); err != nil {
		return err
	}
	if err := conn.Flush(); err != nil {
		return err
	}

	in, err := conn.ReadHead()
	if err != nil {
		return fmt.Errorf("read response head: %w", err)
	}
	var total uint64
	for conn.CanReadBody() {
		chunk, err := conn.ReadBody()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		total += uint64(len(chunk))
	}
	fmt.Fprintf(w, "%s %d %s, body %s (%s)\n", in.Head.Version, in.Head.Status, in.Head.Reason, humanize.IBytes(total), in.Body)
	return nil
}
