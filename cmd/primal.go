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

	"github.com/notargets/goadjoint/adjoint"
	"github.com/spf13/cobra"
)

// PrimalCmd represents the primal command
var PrimalCmd = &cobra.Command{
	Use:   "primal",
	Short: "Converge the primal model and report objectives and residuals",
	Long: `
Converges the configured model from its initial state and prints every
objective and the residual statistics of each state.

goadjoint primal -I input.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runOptions()
		s, err := newSolver(opts)
		if err != nil {
			return err
		}
		if err = instrumented(opts, func() error { return runPrimal(s) }); err != nil {
			return err
		}
		return finish(s, opts, "primal", map[string][]float64{"primal": s.PrimalHistory})
	},
}

func init() {
	rootCmd.AddCommand(PrimalCmd)
}

func runPrimal(s *adjoint.Solver) (err error) {
	var status int
	if status, err = s.SolvePrimal(nil, nil); err != nil {
		return
	}
	if status != 0 {
		fmt.Printf("primal did not converge\n")
	}
	if err = s.PrintAllObjFuncs(); err != nil {
		return
	}
	_, err = s.CalcPrimalResidualStatistics("print")
	return
}
