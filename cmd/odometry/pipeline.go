package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scanmatch/internal/config"
	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/monitor"
	"github.com/banshee-data/scanmatch/internal/odomdb"
	"github.com/banshee-data/scanmatch/internal/odometry"
	"github.com/banshee-data/scanmatch/internal/rplidar"
	"github.com/banshee-data/scanmatch/internal/timeutil"
	"github.com/banshee-data/scanmatch/internal/visualiser"
)

// scanner is a revolution source that owns a device or simulation.
type scanner interface {
	rplidar.Scanner
	Close() error
}

// resetSettle is how long the device needs to reboot after RESET.
const resetSettle = 2 * time.Second

// deviceScanner stops the motor before releasing the port.
type deviceScanner struct {
	*rplidar.Device
}

func (d deviceScanner) Close() error {
	if err := d.StopMotor(); err != nil {
		log.Printf("failed to stop motor: %v", err)
	}
	scans, resyncs := d.Stats()
	log.Printf("device closed after %d revolutions (%d resyncs)", scans, resyncs)
	return d.Device.Close()
}

// openScanner returns the synthetic room in dev mode, otherwise a spinning,
// scanning RPLIDAR. The second result names the source for the session
// record.
func openScanner(ctx context.Context, cfg *config.OdometryConfig) (scanner, string, error) {
	if *devMode {
		log.Printf("dev mode: using synthetic room (seed %d)", *devSeed)
		return rplidar.NewSyntheticRoom(*devSeed), "synthetic", nil
	}

	path := *portPath
	if path == "" {
		ports, err := rplidar.ListPorts()
		if err != nil {
			return nil, "", err
		}
		name, ok := rplidar.GuessPort(ports)
		if !ok {
			return nil, "", errors.New("no serial ports found; pass -port or use -dev")
		}
		log.Printf("auto-detected serial port %s", name)
		path = name
	}

	port, err := rplidar.Open(path, rplidar.PortOptions{BaudRate: cfg.GetBaudRate()})
	if err != nil {
		return nil, "", err
	}
	dev := deviceScanner{rplidar.NewDevice(port)}

	info, err := dev.Info(ctx)
	if err != nil {
		dev.Close()
		return nil, "", err
	}
	log.Printf("connected to %s on %s", info, path)

	health, err := dev.Health(ctx)
	if err != nil {
		dev.Close()
		return nil, "", err
	}
	if health.Status == rplidar.HealthError {
		log.Printf("device reports health error code %d, resetting", health.ErrorCode)
		if health, err = resetDevice(ctx, dev.Device); err != nil || health.Status == rplidar.HealthError {
			dev.Close()
			if err == nil {
				err = fmt.Errorf("device reports health error code %d after reset", health.ErrorCode)
			}
			return nil, "", err
		}
	}

	if err := dev.StartMotor(); err != nil {
		dev.Close()
		return nil, "", fmt.Errorf("start motor: %w", err)
	}
	if err := dev.StartScan(ctx); err != nil {
		dev.Close()
		return nil, "", err
	}
	return dev, path, nil
}

// resetDevice reboots the device core, discards its boot banner and asks for
// health again.
func resetDevice(ctx context.Context, dev *rplidar.Device) (rplidar.Health, error) {
	if err := dev.Reset(); err != nil {
		return rplidar.Health{}, err
	}
	select {
	case <-ctx.Done():
		return rplidar.Health{}, ctx.Err()
	case <-time.After(resetSettle):
	}
	if err := dev.Stop(); err != nil {
		return rplidar.Health{}, err
	}
	return dev.Health(ctx)
}

func newCloudSource(s rplidar.Scanner, cfg *config.OdometryConfig) *rplidar.CloudSource {
	return &rplidar.CloudSource{
		Scanner: s,
		Filter: rplidar.Filter{
			MinQuality: uint8(cfg.GetMinQuality()),
			MinRange:   cfg.GetMinRange(),
			MaxRange:   cfg.GetMaxRange(),
		},
		Clock:     timeutil.RealClock{},
		MinPoints: cfg.GetMinScanPoints(),
		Timeout:   cfg.GetScanTimeout(),
	}
}

// pipeline is one odometry run: a source feeding the tracker, whose updates
// go to the monitor and, when configured, the database and the publisher.
type pipeline struct {
	tracker *odometry.Tracker
	source  odometry.ScanSource
	monitor *monitor.Monitor
	clock   timeutil.Clock

	db          *odomdb.DB // nil disables recording
	sessionID   string
	recordScans bool

	publisher *visualiser.Publisher // nil disables streaming
	httpAddr  string                // empty disables HTTP
}

func (p *pipeline) now() time.Time {
	if p.clock == nil {
		return time.Now()
	}
	return p.clock.Now()
}

func (p *pipeline) sinks() []odometry.Sink {
	sinks := []odometry.Sink{p.monitor}
	if p.db != nil {
		sinks = append(sinks, odometry.SinkFunc(p.record))
	}
	if p.publisher != nil {
		sinks = append(sinks, odometry.SinkFunc(func(u odometry.Update) {
			p.publisher.Publish(u.Frame(p.sessionID))
		}))
	}
	return sinks
}

func (p *pipeline) record(u odometry.Update) {
	f := u.Frame(p.sessionID)
	if !p.recordScans {
		f.Cloud = geom.PointCloud{}
	}
	if err := p.db.RecordFrame(f); err != nil {
		log.Printf("failed to record seq %d: %v", u.Seq, err)
	}
}

// run blocks until the source is exhausted, ctx is cancelled or a server
// fails. Cancellation is a clean stop.
func (p *pipeline) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.monitor.AddStats("tracker", func() any { return p.tracker.Stats() })
	if p.publisher != nil {
		if err := p.publisher.Start(); err != nil {
			return fmt.Errorf("start publisher: %w", err)
		}
		p.monitor.AddStats("publisher", func() any { return p.publisher.Stats() })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// an exhausted source ends the run
		defer cancel()
		return p.tracker.Run(gctx, p.source, p.sinks()...)
	})
	if p.publisher != nil {
		g.Go(func() error {
			<-gctx.Done()
			p.publisher.Stop()
			return nil
		})
	}
	if p.httpAddr != "" {
		g.Go(func() error { return p.serveHTTP(gctx) })
	}

	err := g.Wait()
	if p.db != nil {
		if endErr := p.db.EndSession(p.sessionID, p.now()); endErr != nil {
			log.Printf("failed to end session: %v", endErr)
		}
	}
	s := p.tracker.Stats()
	log.Printf("processed %d scans: %d accepted, %d rejected, %d failed, %d exhausted",
		s.Scans, s.Accepted, s.Rejected, s.Failed, s.Exhausted)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *pipeline) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	p.monitor.AttachRoutes(mux)
	p.monitor.AttachAdminRoutes(mux)
	if p.db != nil {
		if err := p.db.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:    p.httpAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", p.httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}
