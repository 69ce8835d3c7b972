package main

import (
	"fmt"
	"os"

	"github.com/franz/music-curator/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "mcur",
		Short: "Music Curator - identify and reorganize an audio library",
		Long: `mcur identifies each directory's release via fingerprints, tags or
provider search, pins the decision, then deterministically plans and
transactionally applies the reorganization (moves + tag rewrites) with
crash-safe idempotence and rollback.`,
		Version: Version,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/mcur.yaml)")
	rootCmd.PersistentFlags().String("db", "mcur-state.db", "state database file")
	rootCmd.PersistentFlags().String("cache-db", "mcur-cache.db", "provider cache database file")
	rootCmd.PersistentFlags().String("artifact-dir", "artifacts", "directory for plan, tag patch and event log artifacts")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("cache-db", rootCmd.PersistentFlags().Lookup("cache-db"))
	viper.BindPFlag("artifact-dir", rootCmd.PersistentFlags().Lookup("artifact-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("mcur")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MCUR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func setupLogging() {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
	util.SetColors(util.IsTerminal(os.Stderr.Fd()))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
