/*
estimator_sim flies a simulated scenario through the estimator with injected
sensor faults and writes the measurements, truth, estimates and KPI verdict.
It exits with status 1 when the KPIs fail.
*/
package main

import (
	"context"
	"encoding/json"
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
	"github.com/BradleyConlin/northstrike-training/sim"
	"github.com/BradleyConlin/northstrike-training/telemetry"
)

var (
	configPath     string
	thresholdsPath string
	truthRate      float64
)

func init() {
	flag.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flag.StringVar(&thresholdsPath, "thresholds", "", "KPI thresholds YAML, replaces the thresholds section")
	flag.Float64Var(&truthRate, "truth-rate", 10, "Truth rows per second")
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

	if cfg.MonteCarlo.Runs > 0 {
		return monteCarlo(ctx, cfg)
	}
	return single(ctx, cfg)
}

func single(ctx context.Context, cfg config.Config) int {
	rc := cfg.RunConfig()
	rc.Logger = log.StandardLogger()
	rc.RecordStream = true

	sit, err := sim.Scenario(rc.Scenario, rc.Duration)
	if err != nil {
		log.WithError(err).Error("scenario")
		return 2
	}
	rc.Situation = sit

	metrics := telemetry.NewMetrics()
	rc.Observer = metrics
	sinks := []telemetry.Sink{metrics}

	if cfg.Web.Listen != "" {
		room := estimatorweb.NewRoom(log.StandardLogger())
		extra := map[string]http.Handler{}
		if cfg.Web.MetricsPath != "" {
			extra[cfg.Web.MetricsPath] = metrics.Handler()
		}
		mux := estimatorweb.Mux(room, extra)
		go func() {
			if err := estimatorweb.Serve(ctx, cfg.Web.Listen, room, mux, log.StandardLogger()); err != nil {
				log.WithError(err).Error("web server")
			}
		}()
		sinks = append(sinks, estimatorweb.RoomSink{Room: room})
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

	f, err := os.Create(filepath.Join(cfg.Output.Dir, "estimates.csv"))
	if err != nil {
		log.WithError(err).Error("estimates")
		return 2
	}
	defer f.Close()
	// rows arrive at the run's output rate and are thinned again to output.rate_hz
	l := estimator.NewLayout(rc.Estimator.KinematicModel, rc.Estimator.EstimateBias)
	ew, err := telemetry.NewEstimateWriter(f, l, cfg.Output.FullCovariance, cfg.Output.Rate)
	if err != nil {
		log.WithError(err).Error("estimates")
		return 2
	}
	sinks = append(sinks, ew)

	session := fmt.Sprintf("sim-%d", rc.Seed)
	rc.OnRow = func(s estimator.Snapshot, _ sim.Truth) {
		e := telemetry.Emission{Session: session, Snapshot: s}
		for _, sk := range sinks {
			if err := sk.Emit(e); err != nil {
				log.WithError(err).Debug("sink")
			}
		}
	}

	res, err := sim.Run(ctx, rc)
	if err != nil {
		log.WithError(err).Error("run failed")
		return 2
	}
	if err := ew.Close(); err != nil {
		log.WithError(err).Error("estimates")
		return 2
	}

	if err := writeMeasurements(filepath.Join(cfg.Output.Dir, "measurements.csv"), res.Measurements); err != nil {
		log.WithError(err).Error("measurements")
		return 2
	}
	if err := writeTruth(filepath.Join(cfg.Output.Dir, "truth.csv"), sit); err != nil {
		log.WithError(err).Error("truth")
		return 2
	}
	if err := writeJSON(filepath.Join(cfg.Output.Dir, "session_metrics.json"), res.Metrics); err != nil {
		log.WithError(err).Error("session metrics")
		return 2
	}

	var hover *kpi.HoverReport
	if rc.Scenario == "hover" && len(res.Rows) > 0 {
		est, _ := res.Samples()
		h := kpi.Hover(est, &res.Rows[0].Truth[2])
		hover = &h
	}
	acc := res.Report
	return verdict(cfg, kpi.Evaluate(&acc, hover, cfg.Thresholds))
}

func monteCarlo(ctx context.Context, cfg config.Config) int {
	rc := cfg.RunConfig()
	quiet := log.New()
	quiet.SetLevel(log.WarnLevel)
	rc.Logger = quiet

	log.WithFields(log.Fields{
		"runs":     cfg.MonteCarlo.Runs,
		"parallel": cfg.MonteCarlo.Parallel,
		"scenario": rc.Scenario,
	}).Info("starting Monte-Carlo")
	results, errs, sum := sim.MonteCarlo(ctx, rc, cfg.MonteCarlo)

	type runVerdict struct {
		Seed    int64              `json:"seed"`
		Error   string             `json:"error,omitempty"`
		Verdict *kpi.Verdict       `json:"verdict,omitempty"`
		Metrics sim.SessionMetrics `json:"session_metrics"`
	}
	runs := make([]runVerdict, len(results))
	pass := sum.Failed == 0
	for i, res := range results {
		if errs[i] != nil {
			runs[i].Error = errs[i].Error()
			log.WithError(errs[i]).WithField("run", i).Warn("run failed")
			continue
		}
		acc := res.Report
		v := kpi.Evaluate(&acc, nil, cfg.Thresholds)
		runs[i] = runVerdict{Seed: res.Seed, Verdict: &v, Metrics: res.Metrics}
		pass = pass && v.Pass
	}

	out := struct {
		Pass    bool         `json:"pass"`
		Summary sim.Summary  `json:"summary"`
		Runs    []runVerdict `json:"runs"`
	}{pass, sum, runs}
	if err := writeJSON(filepath.Join(cfg.Output.Dir, "monte_carlo.json"), out); err != nil {
		log.WithError(err).Error("monte carlo report")
		return 2
	}

	log.WithFields(log.Fields{
		"failed":             sum.Failed,
		"position_rms_mean":  sum.PositionRMSMean,
		"position_rms_std":   sum.PositionRMSStd,
		"position_rms_worst": sum.PositionRMSWorst,
		"never_converged":    sum.NeverConverged,
	}).Info("Monte-Carlo complete")
	if !pass {
		log.Error("KPI check failed")
		return 1
	}
	return 0
}

func verdict(cfg config.Config, v kpi.Verdict) int {
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
	log.Info("KPI check passed")
	return 0
}

func writeMeasurements(path string, ms []estimator.Measurement) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := telemetry.NewMeasurementWriter(f).WriteAll(ms); err != nil {
		return err
	}
	return f.Close()
}

func writeTruth(path string, sit sim.Situation) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := sim.WriteTruth(f, sit, truthRate); err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return f.Close()
}
