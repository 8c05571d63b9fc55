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

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "goadjoint",
	Short: "Discrete adjoint derivatives of finite volume residuals",
	Long: `
Converges a primal finite volume model, then solves the discrete adjoint
equations for every configured objective and assembles the total derivatives
with respect to every design variable.

goadjoint primal -I input.yaml
goadjoint adjoint -I input.yaml`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.goadjoint.yaml)")
	rootCmd.PersistentFlags().StringP("inputConditionsFile", "I", "", "YAML file of input parameters")
	rootCmd.PersistentFlags().String("profile", "", "directory for a CPU profile of the run")
	rootCmd.PersistentFlags().Bool("perf", false, "count CPU instructions of the run (linux)")
	rootCmd.PersistentFlags().String("metricsFile", "", "write prometheus metrics of the run to this textfile")
	rootCmd.PersistentFlags().String("plotFile", "", "write the convergence histories to this image")
	rootCmd.PersistentFlags().String("instanceDB", "", "directory of a badger database persisting time instances")
	rootCmd.PersistentFlags().Int("parallelDegree", 0, "override the parallelDegree of the input file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "print iteration histories")
	for _, name := range []string{"inputConditionsFile", "profile", "perf", "metricsFile", "plotFile", "instanceDB",
		"parallelDegree", "verbose"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		// Search config in home directory with name ".goadjoint" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".goadjoint")
	}
	viper.SetEnvPrefix("goadjoint")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
