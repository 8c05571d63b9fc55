/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/adjoint"
	"github.com/notargets/goadjoint/timeinstance"
	"github.com/notargets/goadjoint/utils"
	"github.com/pkg/profile"
	"github.com/spf13/viper"
)

// RunOptions holds the persistent flags. ParallelDegree overrides the input
// file when positive.
type RunOptions struct {
	InputFile      string
	ProfileDir     string
	Perf           bool
	MetricsFile    string
	PlotFile       string
	InstanceDB     string
	ParallelDegree int
	Verbose        bool
}

func runOptions() RunOptions {
	return RunOptions{
		InputFile:      viper.GetString("inputConditionsFile"),
		ProfileDir:     viper.GetString("profile"),
		Perf:           viper.GetBool("perf"),
		MetricsFile:    viper.GetString("metricsFile"),
		PlotFile:       viper.GetString("plotFile"),
		InstanceDB:     viper.GetString("instanceDB"),
		ParallelDegree: viper.GetInt("parallelDegree"),
		Verbose:        viper.GetBool("verbose"),
	}
}

const exampleFile = `
########################################
Title: "Heated channel"
solverName: ScalarTransport2D
mesh: {nx: 16, ny: 8, lx: 2, ly: 1, bump: 0.05}
physics: {U0: 1, AOA: 3, T0: 1, Tw: 0.5, DT: 0.01}
useAD: {mode: reverse}
objFunc:
  heat:
    part1: {type: wallHeatFlux, source: patchToFace, patches: [bottom], varName: T}
designVar:
  aoa: {designVarType: AOA, param: AOA}
  shape: {designVarType: FFD, nModes: 4}
########################################
`

func readInput(fileName string) (ip *InputParameters.InputParameters, err error) {
	if len(fileName) == 0 {
		fmt.Printf("Example File:%s\n", exampleFile)
		return nil, fmt.Errorf("must supply an input parameters file (-I, --inputConditionsFile)")
	}
	var data []byte
	if data, err = os.ReadFile(fileName); err != nil {
		return
	}
	ip = InputParameters.NewInputParameters()
	if err = ip.Parse(data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", fileName, err)
	}
	return
}

func newSolver(opts RunOptions) (s *adjoint.Solver, err error) {
	var (
		ip    *InputParameters.InputParameters
		store timeinstance.Store
	)
	if ip, err = readInput(opts.InputFile); err != nil {
		return
	}
	if opts.ParallelDegree > 0 {
		ip.ParallelDegree = opts.ParallelDegree
	}
	if opts.InstanceDB != "" {
		if store, err = timeinstance.OpenBadgerStore(opts.InstanceDB); err != nil {
			return
		}
	}
	if s, err = adjoint.NewSolver(ip, store); err != nil {
		if store != nil {
			store.Close()
		}
		return
	}
	if store != nil && s.TimeInstances == nil {
		fmt.Printf("steady run, instanceDB %s is not used\n", opts.InstanceDB)
		if err = store.Close(); err != nil {
			return
		}
	}
	s.Verbose = opts.Verbose
	if s.Verbose {
		ip.Print()
	}
	return
}

// instrumented runs fn under the requested profilers.
func instrumented(opts RunOptions, fn func() error) error {
	if opts.ProfileDir != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(opts.ProfileDir)).Stop()
	}
	if !opts.Perf {
		return fn()
	}
	instructions, err := countInstructions(fn)
	if err != nil {
		return err
	}
	fmt.Printf("%d CPU instructions\n", instructions)
	return nil
}

func finish(s *adjoint.Solver, opts RunOptions, title string, histories map[string][]float64) (err error) {
	if opts.MetricsFile != "" {
		if err = s.Metrics.WriteMetrics(opts.MetricsFile); err != nil {
			return
		}
	}
	if opts.PlotFile != "" {
		if err = utils.PlotConvergence(opts.PlotFile, title, histories); err != nil {
			return
		}
	}
	if s.Verbose {
		fmt.Println(utils.GetMemUsage())
	}
	return s.Close()
}
