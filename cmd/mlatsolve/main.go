// Copyright (c) 2026 the adsb.lol authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//

// mlatsolve multilaterates a transmitter position from a scenario
// file of receiver positions and receive timestamps.
package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	m "github.com/adsblol/mlat"
)

// Command line flag variables
var (
	cfgFile    string // Scenario file path
	verbose    int    // Debug output level
	rangeCheck bool   // Enable the per-receiver distance check
	maxIter    int    // Solver iteration cap
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mlatsolve",
	Short: "Multilaterate a transmitter position from receive timestamps",
	Long: `mlatsolve reads a scenario file describing receivers at known
positions with one-way receive timestamps, and estimates the
transmitter position that best explains the observed pseudoranges.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSolve()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "scenario", "s", "./scenario.yaml", "scenario file")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase debug output")

	rootCmd.Flags().BoolVar(&rangeCheck, "range-check", false, "reject fixes more than 500 km from any receiver")
	rootCmd.Flags().IntVar(&maxIter, "max-iter", m.DefaultMaxIter, "solver iteration cap")

	// Bind command line flags to viper configuration keys
	viper.BindPFlag("solver.range_check", rootCmd.Flags().Lookup("range-check"))
	viper.BindPFlag("solver.max_iter", rootCmd.Flags().Lookup("max-iter"))
}

// initConfig reads in the scenario file
func initConfig() {
	viper.SetConfigFile(cfgFile)
	viper.SetDefault("solver.min_alt", m.DefaultMinAlt)
	viper.SetDefault("solver.max_alt", m.DefaultMaxAlt)
	viper.SetDefault("altitude_error", 250.0)

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading scenario file: %v\n", err)
		os.Exit(1)
	}
}

// receiverEntry is one receiver in the scenario file. The position is
// either "lat lon hei" (degrees, meters) or "x y z" (ECEF meters).
type receiverEntry struct {
	Name      string  `mapstructure:"name"`
	LLH       string  `mapstructure:"llh"`
	XYZ       string  `mapstructure:"xyz"`
	Timestamp float64 `mapstructure:"timestamp"`
	Variance  float64 `mapstructure:"variance"`
}

// scenario is the full scenario file layout.
type scenario struct {
	Receivers     []receiverEntry `mapstructure:"receivers"`
	Altitude      *float64        `mapstructure:"altitude"`
	AltitudeError float64         `mapstructure:"altitude_error"`
	InitialGuess  string          `mapstructure:"initial_guess"`
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSolve() error {
	m.DBG_ = verbose

	var sc scenario
	if err := viper.Unmarshal(&sc); err != nil {
		return fmt.Errorf("failed to parse scenario: %w", err)
	}

	meas, err := loadMeasurements(sc)
	if err != nil {
		return err
	}

	var alt *m.AltObs
	if sc.Altitude != nil {
		alt = &m.AltObs{Alt: *sc.Altitude, Sigma: sc.AltitudeError}
	}

	guess, err := initialGuess(sc, meas)
	if err != nil {
		return err
	}

	opt := m.NewSolverOpt()
	opt.MinAlt = viper.GetFloat64("solver.min_alt")
	opt.MaxAlt = viper.GetFloat64("solver.max_alt")
	opt.MaxIter = viper.GetInt("solver.max_iter")
	opt.RangeCheck = viper.GetBool("solver.range_check")
	opt.OnSolve = func(s m.SolveStats) {
		m.PrintD(1, "solve: %v, %d iterations, converged=%v, accepted=%v\n",
			s.Elapsed, s.Iter, s.Converged, s.Accepted)
	}

	fix, err := m.Solve(meas, alt, guess, opt)
	if errors.Is(err, m.ErrNoFix) {
		fmt.Printf("no fix: %v\n", err)
		os.Exit(1)
	}
	if err != nil {
		return err
	}

	printFix(fix)
	return nil
}

// loadMeasurements converts scenario receivers to solver measurements,
// sorted by timestamp as the solver requires.
func loadMeasurements(sc scenario) ([]m.Measurement, error) {
	meas := make([]m.Measurement, 0, len(sc.Receivers))
	for i, r := range sc.Receivers {
		pos, err := parsePosition(r)
		if err != nil {
			return nil, fmt.Errorf("receiver %d (%s): %w", i, r.Name, err)
		}
		meas = append(meas, m.Measurement{
			ReceiverPos: pos,
			Timestamp:   r.Timestamp,
			Variance:    r.Variance,
		})
	}
	sort.Slice(meas, func(i, j int) bool { return meas[i].Timestamp < meas[j].Timestamp })
	return meas, nil
}

// parsePosition reads a receiver position in either coordinate form.
func parsePosition(r receiverEntry) (m.PosXYZ, error) {
	switch {
	case r.LLH != "":
		var llh m.PosLLH
		if err := llh.Set(r.LLH); err != nil {
			return m.PosXYZ{}, fmt.Errorf("invalid llh %q: %w", r.LLH, err)
		}
		return llh.ToXYZ(), nil
	case r.XYZ != "":
		var xyz m.PosXYZ
		if _, err := fmt.Sscan(r.XYZ, &xyz.X, &xyz.Y, &xyz.Z); err != nil {
			return m.PosXYZ{}, fmt.Errorf("invalid xyz %q: %w", r.XYZ, err)
		}
		return xyz, nil
	}
	return m.PosXYZ{}, fmt.Errorf("no position given")
}

// initialGuess uses the scenario's start position when present, the
// centroid of the receivers otherwise.
func initialGuess(sc scenario, meas []m.Measurement) (m.PosXYZ, error) {
	if sc.InitialGuess != "" {
		var llh m.PosLLH
		if err := llh.Set(sc.InitialGuess); err != nil {
			return m.PosXYZ{}, fmt.Errorf("invalid initial_guess %q: %w", sc.InitialGuess, err)
		}
		return llh.ToXYZ(), nil
	}
	var c m.PosXYZ
	for _, mm := range meas {
		c.X += mm.ReceiverPos.X
		c.Y += mm.ReceiverPos.Y
		c.Z += mm.ReceiverPos.Z
	}
	n := float64(len(meas))
	c.X /= n
	c.Y /= n
	c.Z /= n
	return c, nil
}

// printFix writes the solution to stdout.
func printFix(fix *m.Fix) {
	llh := fix.Pos.ToLLH()
	fmt.Printf("position: %.7f %.7f %.1f\n", m.ToDeg(llh.Lat), m.ToDeg(llh.Lon), llh.Hei)
	fmt.Printf("ecef:     %.1f %.1f %.1f\n", fix.Pos.X, fix.Pos.Y, fix.Pos.Z)
	fmt.Printf("offset:   %.1f m\n", fix.Offset)
	if fix.Cov != nil {
		fmt.Printf("sigma:    %.1f %.1f %.1f m\n",
			math.Sqrt(fix.Cov[0][0]), math.Sqrt(fix.Cov[1][1]), math.Sqrt(fix.Cov[2][2]))
	} else {
		fmt.Printf("sigma:    unavailable\n")
	}
}
