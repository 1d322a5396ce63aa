package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradleyConlin/northstrike-training/estimator"
)

func writeFile(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "northstrike.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("", nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("defaults (-want +got):\n%s", diff)
	}
}

func TestPrecedence(t *testing.T) {
	path := writeFile(t, `
estimator:
  outlier_gate: 4
  kinematic_model: constant_acceleration
sim:
  scenario: box
  faults:
    accel_bias_g: [0.01, 0, 0]
`)

	c, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, c.Estimator.OutlierGate)
	assert.Equal(t, estimator.ConstantAcceleration, c.Estimator.KinematicModel)
	assert.Equal(t, estimator.ConstantAcceleration, c.RunConfig().Estimator.KinematicModel)
	assert.Equal(t, "box", c.Sim.Scenario)
	assert.Equal(t, [3]float64{0.01, 0, 0}, c.Sim.Faults.AccelBias)
	// untouched keys keep their defaults
	assert.Equal(t, Default().Estimator.ProcessNoise, c.Estimator.ProcessNoise)

	t.Setenv("NORTHSTRIKE_ESTIMATOR_OUTLIER_GATE", "6")
	t.Setenv("NORTHSTRIKE_SIM_FAULTS_GYRO_BIAS", "0.001, 0, -0.001")
	c, err = Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 6.0, c.Estimator.OutlierGate)
	assert.Equal(t, [3]float64{0.001, 0, -0.001}, c.Sim.Faults.GyroBias)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--outlier-gate=7", "--accel-bias=0.02,-0.02,0", "-s", "hover", "-w"}))
	c, err = Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, 7.0, c.Estimator.OutlierGate)
	assert.Equal(t, [3]float64{0.02, -0.02, 0}, c.Sim.Faults.AccelBias)
	assert.Equal(t, "hover", c.Sim.Scenario)
	assert.True(t, c.Sim.Faults.GPSInop)
	// unset flags do not override the file
	assert.Equal(t, estimator.ConstantAcceleration, c.Estimator.KinematicModel)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("NORTHSTRIKE_ESTIMATOR_KINEMATIC_MODEL", "bogus")
	_, err := Load("", nil)
	assert.ErrorIs(t, err, estimator.ErrInvalidConfig)
}

func TestLoadInvalidVector(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--gyro-bias=1,2"}))
	_, err := Load("", fs)
	assert.ErrorIs(t, err, estimator.ErrInvalidConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mod := range map[string]func(*Config){
		"negative gate":    func(c *Config) { c.Estimator.OutlierGate = -1 },
		"zero duration":    func(c *Config) { c.Sim.Duration = 0 },
		"slow imu":         func(c *Config) { c.Sim.Sensors.IMURate = 0.5 },
		"probability":      func(c *Config) { c.Sim.Faults.DropoutProb = 1.5 },
		"log level":        func(c *Config) { c.Log.Level = "loud" },
		"log format":       func(c *Config) { c.Log.Format = "xml" },
		"negative runs":    func(c *Config) { c.MonteCarlo.Runs = -1 },
		"negative outrate": func(c *Config) { c.Output.Rate = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mod(&c)
			assert.ErrorIs(t, c.Validate(), estimator.ErrInvalidConfig)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestWriteEffectiveRoundTrip(t *testing.T) {
	c := Default()
	c.Estimator.OutlierGate = 3.5
	c.Sim.Faults.AccelBias = [3]float64{0.02, -0.02, 0}
	c.Output.FullCovariance = true

	var buf bytes.Buffer
	require.NoError(t, c.WriteEffective(&buf))
	assert.Contains(t, buf.String(), "outlier_gate: 3.5")

	path := writeFile(t, buf.String())
	back, err := Load(path, nil)
	require.NoError(t, err)
	c.Sim.Estimator = c.Estimator
	if diff := cmp.Diff(c, back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestParseVector(t *testing.T) {
	v, err := ParseVector(" 1, -2.5,3 ")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{1, -2.5, 3}, v)

	v, err = ParseVector("")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{}, v)

	_, err = ParseVector("1,2,x")
	assert.Error(t, err)
}

func TestApplyLogging(t *testing.T) {
	l := logrus.New()
	c := Default()
	c.Log = Log{Level: "debug", Format: "json"}
	require.NoError(t, c.ApplyLogging(l))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
}
