package sim

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/BradleyConlin/northstrike-training/kpi"
)

// MonteCarloConfig controls a batch of independent runs
type MonteCarloConfig struct {
	Runs     int `yaml:"runs" mapstructure:"runs"`
	Parallel int `yaml:"parallel" mapstructure:"parallel"` // 0 uses GOMAXPROCS
	// Randomize scales each run's sensor noise by a factor drawn uniformly from [1-Randomize, 1+Randomize]
	Randomize float64 `yaml:"randomize" mapstructure:"randomize"`
}

// Summary aggregates KPIs over a batch of runs
type Summary struct {
	Runs             int          `json:"runs" yaml:"runs"`
	Failed           int          `json:"failed" yaml:"failed"`
	PositionRMSMean  float64      `json:"position_rms_mean" yaml:"position_rms_mean"`
	PositionRMSStd   float64      `json:"position_rms_std" yaml:"position_rms_std"`
	PositionRMSWorst float64      `json:"position_rms_worst" yaml:"position_rms_worst"`
	VelocityRMSMean  float64      `json:"velocity_rms_mean" yaml:"velocity_rms_mean"`
	NeverConverged   int          `json:"never_converged" yaml:"never_converged"`
	Reports          []kpi.Report `json:"reports" yaml:"reports"`
}

type mcJob struct {
	i   int
	cfg RunConfig
}

// MonteCarlo flies mc.Runs independent copies of base, each with its own seed and
// estimator, on a pool of workers. Results are returned in run order; a run that
// failed has a nil result and its error in errs. base.OnRow and base.Observer
// are not called; base.Situation is shared by every run and must not change.
func MonteCarlo(ctx context.Context, base RunConfig, mc MonteCarloConfig) (results []*RunResult, errs []error, sum Summary) {
	nWorkers := mc.Parallel
	if nWorkers <= 0 {
		nWorkers = runtime.GOMAXPROCS(0)
	}
	results = make([]*RunResult, mc.Runs)
	errs = make([]error, mc.Runs)

	jobs := make(chan mcJob, mc.Runs)
	var wg sync.WaitGroup
	for w := 0; w < nWorkers; w++ {
		go func() {
			for j := range jobs {
				results[j.i], errs[j.i] = Run(ctx, j.cfg)
				wg.Done()
			}
		}()
	}

	seeds := rand.New(rand.NewSource(base.Seed))
	for i := 0; i < mc.Runs; i++ {
		c := base
		c.Seed = seeds.Int63()
		c.OnRow, c.Observer = nil, nil
		if mc.Randomize > 0 {
			k := 1 + mc.Randomize*(2*seeds.Float64()-1)
			c.Sensors.AccelNoise *= k
			c.Sensors.GyroNoise *= k
			c.Sensors.GPSNoise *= k
		}
		wg.Add(1)
		jobs <- mcJob{i: i, cfg: c}
	}
	close(jobs)
	wg.Wait()

	return results, errs, summarize(results)
}

func summarize(results []*RunResult) (s Summary) {
	var pos, vel []float64
	for _, r := range results {
		s.Runs++
		if r == nil {
			s.Failed++
			continue
		}
		s.Reports = append(s.Reports, r.Report)
		if r.Report.ConvergenceIndex < 0 {
			s.NeverConverged++
		}
		pos = append(pos, r.Report.PositionRMS)
		vel = append(vel, r.Report.VelocityRMS)
		s.PositionRMSWorst = math.Max(s.PositionRMSWorst, r.Report.PositionRMS)
	}
	if len(pos) == 0 {
		s.PositionRMSMean, s.PositionRMSStd, s.VelocityRMSMean = math.NaN(), math.NaN(), math.NaN()
		return
	}
	s.PositionRMSMean, s.PositionRMSStd = stat.PopMeanStdDev(pos, nil)
	s.VelocityRMSMean = stat.Mean(vel, nil)
	return
}
