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

	"github.com/notargets/goadjoint/adjoint"
	"github.com/spf13/cobra"
)

// AdjointCmd represents the adjoint command
var AdjointCmd = &cobra.Command{
	Use:   "adjoint",
	Short: "Solve the adjoint equations and print total derivatives",
	Long: `
Converges the primal, solves one adjoint system per objective and prints the
total derivative of every objective with respect to every design variable.

goadjoint adjoint -I input.yaml --writeMatrices out/

An unsteady run that stored its time instances with --instanceDB can skip the
primal march on a later run with --resume:

goadjoint adjoint -I input.yaml --instanceDB run1/ --resume`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runOptions()
		matrixDir, _ := cmd.Flags().GetString("writeMatrices")
		resume, _ := cmd.Flags().GetBool("resume")
		if resume && opts.InstanceDB == "" {
			return fmt.Errorf("--resume needs the --instanceDB of an earlier unsteady run")
		}
		s, err := newSolver(opts)
		if err != nil {
			return err
		}
		if err = instrumented(opts, func() error { return runAdjoint(s, matrixDir, resume) }); err != nil {
			return err
		}
		histories := map[string][]float64{"primal": s.PrimalHistory}
		for name, h := range s.KrylovHistory {
			histories[name] = h
		}
		return finish(s, opts, "primal and adjoint", histories)
	},
}

func init() {
	rootCmd.AddCommand(AdjointCmd)
	AdjointCmd.Flags().String("writeMatrices", "", "directory to write dRdWT, its preconditioner and the adjoint vectors")
	AdjointCmd.Flags().Bool("resume", false, "reload the unsteady primal from --instanceDB instead of marching")
}

func runAdjoint(s *adjoint.Solver, matrixDir string, resume bool) (err error) {
	var status int
	if resume {
		if err = s.ResumePrimal(); err != nil {
			return fmt.Errorf("resuming the primal: %w", err)
		}
		fmt.Printf("resumed %d time instances from the instance store\n", s.TimeInstances.N())
	} else if err = runPrimal(s); err != nil {
		return
	}
	if s.State != adjoint.PrimalConverged {
		return fmt.Errorf("primal did not converge, skipping the adjoint")
	}
	if status, err = s.SolveAdjoint(); err != nil {
		return
	}
	if status != 0 {
		fmt.Printf("adjoint linear solves did not all converge\n")
	}
	s.PrintTotalDerivatives()
	if matrixDir != "" {
		if err = os.MkdirAll(matrixDir, 0o755); err != nil {
			return
		}
		err = s.WriteMatrices(matrixDir)
	}
	return
}
