package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/scanmatch/internal/config"
	"github.com/banshee-data/scanmatch/internal/monitor"
	"github.com/banshee-data/scanmatch/internal/odomdb"
	"github.com/banshee-data/scanmatch/internal/odometry"
	"github.com/banshee-data/scanmatch/internal/rplidar"
	"github.com/banshee-data/scanmatch/internal/version"
	"github.com/banshee-data/scanmatch/internal/visualiser"
)

var (
	portPath    = flag.String("port", "", "Serial port of the RPLIDAR (auto-detected when empty, ignored in dev mode)")
	devMode     = flag.Bool("dev", false, "Use a synthetic room instead of a serial device")
	devSeed     = flag.Int64("dev-seed", 1, "Noise seed for the synthetic room")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	configFile  = flag.String("config", "", "Path to an odometry JSON config (built-in defaults when empty)")
	dbFile      = flag.String("db", "odometry.db", "Path to the SQLite database file (empty disables recording)")
	listen      = flag.String("listen", ":8082", "HTTP listen address (empty disables)")
	grpcListen  = flag.String("grpc-listen", "localhost:50051", "gRPC listen address for scan subscribers (empty disables)")
	historySize = flag.Int("history", monitor.DefaultHistory, "Number of updates kept for the status endpoints")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("odometry", version.String())
		return
	}
	if *listPorts {
		if err := printPorts(); err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		return
	}

	if err := run(); err != nil {
		log.Fatalf("odometry: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func run() error {
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	trackerCfg, err := odometry.ConfigFrom(cfg)
	if err != nil {
		return fmt.Errorf("invalid odometry config: %w", err)
	}
	tracker, err := odometry.NewTracker(trackerCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scanner, source, err := openScanner(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open scanner: %w", err)
	}
	defer scanner.Close()

	p := &pipeline{
		tracker:     tracker,
		source:      newCloudSource(scanner, cfg),
		monitor:     monitor.New(*historySize),
		recordScans: cfg.GetRecordScans(),
		httpAddr:    *listen,
	}

	if *dbFile != "" {
		db, err := odomdb.Open(*dbFile)
		if err != nil {
			return err
		}
		defer db.Close()
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		session, err := db.StartSession(source, string(cfgJSON), p.now())
		if err != nil {
			return err
		}
		p.db = db
		p.sessionID = session.ID
	}

	if *grpcListen != "" {
		pubCfg := visualiser.DefaultConfig()
		pubCfg.ListenAddr = *grpcListen
		pubCfg.QueueSize = cfg.GetPublishQueueSize()
		p.publisher = visualiser.NewPublisher(pubCfg)
	}

	return p.run(ctx)
}

func loadConfig(path string) (*config.OdometryConfig, error) {
	if path == "" {
		return config.EmptyOdometryConfig(), nil
	}
	return config.LoadOdometryConfig(path)
}

func printPorts() error {
	ports, err := rplidar.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
