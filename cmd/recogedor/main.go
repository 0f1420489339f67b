// Command recogedor watches one or more IMAP folders and routes mail
// according to a small per-folder script, appending matched messages to
// destination mailboxes or S3 buckets and flagging the source copy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kivikakk/recogedor/config"
	"github.com/kivikakk/recogedor/endpoint"
	"github.com/kivikakk/recogedor/lalog"
	"github.com/kivikakk/recogedor/script"
	"github.com/kivikakk/recogedor/supervisor"
)

var logger = lalog.Logger{ComponentName: "main", ComponentID: []lalog.LoggerIDField{{Key: "PID", Value: os.Getpid()}}}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	printIR := flag.Bool("print-ir", false, "print each folder's compiled IR and exit without connecting to anything")
	dryRun := flag.Bool("dry-run", false, "load and validate the configuration, then exit")
	flag.Parse()

	if *configPath == "" {
		logger.Abort("main", nil, "-config is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Abort("main", err, "failed to load configuration")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.Warning("main", e, "configuration problem")
		}
		logger.Abort("main", nil, "configuration is invalid, see warnings above")
	}
	if *dryRun {
		fmt.Println("configuration is valid")
		return
	}

	sourceStore := endpoint.NewIMAPStore(cfg.Source.Host, cfg.Source.Port, cfg.Source.Username, cfg.Source.Password)
	sourceStore.InsecureSkipVerify = cfg.Source.InsecureSkipVerify
	sourceStore.ResolverServer = cfg.Source.ResolverServer

	destinations, err := buildDestinations(cfg, sourceStore)
	if err != nil {
		logger.Abort("main", err, "failed to build destination endpoints")
	}

	metrics := supervisor.NewMetrics()
	folders := make([]*supervisor.Folder, 0, len(cfg.Folders))
	for i, fc := range cfg.Folders {
		_, ir, err := compileFolderScript(fc, destinations)
		if err != nil {
			logger.Abort("main", err, "failed to compile folders[%d].script", i)
		}
		if *printIR {
			fmt.Printf("# folder %q\n%s\n\n", fc.Mailbox, ir.String())
			continue
		}

		pollInterval := time.Duration(fc.PollIntervalSec) * time.Second
		mailboxSource := &endpoint.MailboxSource{Store: sourceStore, Mailbox: fc.Mailbox}
		folder := supervisor.NewFolder(fc.Mailbox, mailboxSource, sourceStore, ir, pollInterval, metrics, logger)
		folders = append(folders, folder)
	}
	if *printIR {
		return
	}

	sup := &supervisor.Supervisor{
		Folders:              folders,
		Metrics:              metrics,
		Logger:               logger,
		MetricsListenAddress: cfg.Metrics.ListenAddress,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sup.Run(ctx); err != nil {
		logger.Abort("main", err, "supervisor exited with an error")
	}
}

// compileFolderScript parses and compiles one folder's script file
// against the shared destination table, returning both the program (for
// -print-ir's caller to inspect further, if ever extended) and the
// resulting IR.
func compileFolderScript(fc config.FolderConfig, destinations map[script.DestinationName]script.Endpoint) (script.Program, *script.IR, error) {
	source, err := os.ReadFile(fc.Script)
	if err != nil {
		return nil, nil, err
	}
	program, err := script.ParseProgram(string(source))
	if err != nil {
		return nil, nil, err
	}
	ir, err := script.Compile(program, destinations)
	if err != nil {
		return nil, nil, err
	}
	return program, ir, nil
}

// buildDestinations constructs one script.Endpoint per configured
// destination. IMAP destinations share sourceStore's single connection
// via IMAPStore.Mailbox; S3 destinations own their own AWS session.
func buildDestinations(cfg *config.Config, sourceStore *endpoint.IMAPStore) (map[script.DestinationName]script.Endpoint, error) {
	destinations := make(map[script.DestinationName]script.Endpoint, len(cfg.Destinations))
	for name, dc := range cfg.Destinations {
		switch dc.Kind {
		case "imap":
			destinations[script.DestinationName(name)] = sourceStore.Mailbox(dc.Mailbox)
		case "s3":
			store, err := endpoint.NewS3Store(dc.Region, dc.Bucket, dc.Prefix)
			if err != nil {
				return nil, fmt.Errorf("destination %q: %w", name, err)
			}
			destinations[script.DestinationName(name)] = store
		default:
			return nil, fmt.Errorf("destination %q: unknown kind %q", name, dc.Kind)
		}
	}
	return destinations, nil
}
