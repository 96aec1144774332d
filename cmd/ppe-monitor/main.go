package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/ppe.report/internal/db"
	"github.com/banshee-data/ppe.report/internal/version"
)

var (
	configPath      = flag.String("config", "", "Compliance config file (.json or .toml); built-in defaults when empty")
	dbPath          = flag.String("db", "ppe_report.db", "SQLite audit database")
	auditDir        = flag.String("audit-dir", "audit_logs", "Directory for daily CSV audit files")
	evidenceDir     = flag.String("evidence-dir", "violations", "Directory for evidence crops")
	fixtures        = flag.String("fixtures", "", "JSON-lines detection fixtures to replay")
	fixtureInterval = flag.Duration("fixture-interval", 100*time.Millisecond, "Pause between replayed frames")
	listen          = flag.String("listen", ":8080", "HTTP listen address; empty disables the server")
	logLevel        = flag.String("log-level", "ops", "Log streams to enable: ops, diag or trace")
	alertWebhook    = flag.String("alert-webhook", "", "URL to POST alerts to, in addition to the terminal bell")
	timezone        = flag.String("timezone", "Local", "IANA timezone that decides audit file days and evidence timestamps")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] [command]\n\n", os.Args[0])
	fmt.Fprintln(out, "With no command, replays -fixtures through the compliance engine.")
	fmt.Fprintln(out, "\nCommands:")
	fmt.Fprintln(out, "  migrate <up|down|status|version N|force N>   manage the audit database schema")
	fmt.Fprintln(out, "  report [-out chart.png] [-since 24h]         summarise the audit database")
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("ppe-monitor"))
		return
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "migrate":
			err := db.RunMigrateCommand(args[1:], *dbPath, os.Stdin, os.Stdout)
			if errors.Is(err, db.ErrUsage) {
				db.PrintMigrateHelp(os.Stderr)
				os.Exit(1)
			}
			if err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		case "report":
			if err := runReport(args[1:], *dbPath, *configPath, os.Stdout); err != nil {
				log.Fatalf("report: %v", err)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			usage()
			os.Exit(1)
		}
	}

	if *fixtures == "" {
		fmt.Fprintln(os.Stderr, "-fixtures is required: no live detector is built in")
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := runMonitor(ctx, monitorOptions{
		ConfigPath:       *configPath,
		DBPath:           *dbPath,
		AuditDir:         *auditDir,
		EvidenceDir:      *evidenceDir,
		Fixtures:         *fixtures,
		FixtureInterval:  *fixtureInterval,
		Listen:           *listen,
		LogLevel:         *logLevel,
		AlertWebhook:     *alertWebhook,
		Timezone:         *timezone,
		Stdout:           os.Stdout,
		Stderr:           os.Stderr,
		ServeAfterReplay: *listen != "",
	})
	if err != nil {
		log.Fatalf("ppe-monitor: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
