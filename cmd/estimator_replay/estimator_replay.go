/*
estimator_replay runs a recorded measurement CSV, or a flight log of position
fixes, through the estimator and writes the estimates. Given a reference CSV it
also scores the estimates against thresholds and exits with status 1 on failure.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/BradleyConlin/northstrike-training/config"
	"github.com/BradleyConlin/northstrike-training/estimator"
	"github.com/BradleyConlin/northstrike-training/estimatorweb"
	"github.com/BradleyConlin/northstrike-training/kpi"
	"github.com/BradleyConlin/northstrike-training/telemetry"
)

var (
	configPath     string
	thresholdsPath string
	inputPath      string
	referencePath  string
	flightLog      bool
	hold           bool
)

func init() {
	flag.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flag.StringVar(&thresholdsPath, "thresholds", "", "KPI thresholds YAML, replaces the thresholds section")
	flag.StringVarP(&inputPath, "input", "i", "", "Measurement CSV to replay")
	flag.StringVarP(&referencePath, "reference", "r", "", "Reference CSV (t, x, y, z, optionally vx, vy, vz) to score against")
	flag.BoolVar(&flightLog, "flight-log", false, "Input is a telemetry flight log of position fixes")
	flag.BoolVar(&hold, "hold", false, "Keep serving the room and metrics after the replay until interrupted")
	config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	log.SetLevel(log.InfoLevel)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(configPath, flag.CommandLine)
	if err != nil {
		log.WithError(err).Error("configuration")
		return 2
	}
	if err := cfg.ApplyLogging(log.StandardLogger()); err != nil {
		log.WithError(err).Error("logging")
		return 2
	}
	if thresholdsPath != "" {
		if cfg.Thresholds, err = kpi.LoadThresholds(thresholdsPath); err != nil {
			log.WithError(err).Error("thresholds")
			return 2
		}
	}
	if inputPath == "" {
		log.Error("no input given, use --input")
		flag.Usage()
		return 2
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		log.WithError(err).Error("output directory")
		return 2
	}
	if err := cfg.WriteEffectiveFile(filepath.Join(cfg.Output.Dir, "effective_config.yaml")); err != nil {
		log.WithError(err).Error("writing effective configuration")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, skipped, err := source(inputPath)
	if err != nil {
		log.WithError(err).Error("input")
		return 2
	}

	metrics := telemetry.NewMetrics()
	est, err := estimator.New(cfg.Estimator,
		estimator.WithLogger(log.StandardLogger()),
		estimator.WithObserver(metrics))
	if err != nil {
		log.WithError(err).Error("estimator")
		return 2
	}
	defer est.Close()

	f, err := os.Create(filepath.Join(cfg.Output.Dir, "estimates.csv"))
	if err != nil {
		log.WithError(err).Error("estimates")
		return 2
	}
	defer f.Close()
	ew, err := telemetry.NewEstimateWriter(f, est.Layout(), cfg.Output.FullCovariance, cfg.Output.Rate)
	if err != nil {
		log.WithError(err).Error("estimates")
		return 2
	}

	var samples []kpi.Sample
	collect := telemetry.SinkFunc(func(e telemetry.Emission) error {
		if e.Snapshot.Phase == estimator.Running {
			samples = append(samples, kpi.Sample{T: e.Snapshot.T, Position: e.Snapshot.Position, Velocity: e.Snapshot.Velocity})
		}
		return nil
	})
	sinks := []telemetry.Sink{ew, metrics, collect}

	served := make(chan struct{})
	if cfg.Web.Listen != "" {
		room := estimatorweb.NewRoom(log.StandardLogger())
		extra := map[string]http.Handler{}
		if cfg.Web.MetricsPath != "" {
			extra[cfg.Web.MetricsPath] = metrics.Handler()
		}
		go func() {
			defer close(served)
			if err := estimatorweb.Serve(ctx, cfg.Web.Listen, room, estimatorweb.Mux(room, extra), log.StandardLogger()); err != nil {
				log.WithError(err).Error("web server")
			}
		}()
		sinks = append(sinks, estimatorweb.RoomSink{Room: room})
	} else {
		close(served)
	}
	if cfg.Web.Publish != "" {
		pub, err := estimatorweb.NewPublisher(cfg.Web.Publish, log.StandardLogger())
		if err != nil {
			log.WithError(err).Warn("not publishing")
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}

	session := telemetry.NewSession(filepath.Base(inputPath), est, log.StandardLogger(), sinks...)
	st, err := session.Replay(ctx, src)
	if err != nil {
		log.WithError(err).Error("replay failed")
		return 2
	}
	if err := ew.Close(); err != nil {
		log.WithError(err).Error("estimates")
		return 2
	}
	stats := est.Stats()
	log.WithFields(log.Fields{
		"read":       st.Read,
		"skipped":    st.Skipped + skipped(),
		"emitted":    st.Emitted,
		"rows":       ew.Rows(),
		"rejections": stats.Rejections,
		"clamps":     stats.Clamps,
	}).Info("replay complete")

	code := score(cfg, samples)

	if hold && cfg.Web.Listen != "" {
		log.Info("serving until interrupted")
		<-served
	}
	return code
}

// source opens the input. skipped reports rows the reader dropped.
func source(path string) (telemetry.Source, func() int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if flightLog {
		defer f.Close()
		fixes, mode, err := telemetry.ReadFlightLog(f)
		if err != nil {
			return nil, nil, err
		}
		log.WithFields(log.Fields{"fixes": len(fixes), "mode": mode}).Info("flight log loaded")
		ms := make(telemetry.SliceSource, len(fixes))
		for i, p := range fixes {
			ms[i] = p
		}
		return &ms, func() int { return 0 }, nil
	}
	// the file stays open for the life of the process
	mr, err := telemetry.NewMeasurementReader(f, log.StandardLogger())
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return mr, func() int { return mr.Skipped }, nil
}

func score(cfg config.Config, est []kpi.Sample) int {
	var (
		acc   *kpi.Report
		hover *kpi.HoverReport
	)
	if referencePath != "" {
		f, err := os.Open(referencePath)
		if err != nil {
			log.WithError(err).Error("reference")
			return 2
		}
		ref, err := telemetry.ReadSamples(f)
		f.Close()
		if err != nil {
			log.WithError(err).Error("reference")
			return 2
		}
		r, err := kpi.Compute(est, ref, cfg.Thresholds.ConvergenceRMS)
		if err != nil {
			log.WithError(err).Error("kpi")
			return 1
		}
		acc = &r
	} else if len(est) > 0 {
		h := kpi.Hover(est, nil)
		hover = &h
	}

	v := kpi.Evaluate(acc, hover, cfg.Thresholds)
	f, err := os.Create(filepath.Join(cfg.Output.Dir, "kpi_report.json"))
	if err != nil {
		log.WithError(err).Error("kpi report")
		return 2
	}
	defer f.Close()
	if err := v.WriteJSON(f); err != nil {
		log.WithError(err).Error("kpi report")
		return 2
	}
	for _, vi := range v.Violations {
		log.Warn(vi.String())
	}
	if !v.Pass {
		log.Error("KPI check failed")
		return 1
	}
	return 0
}
