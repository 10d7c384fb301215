package main

import (
	"net/http"
	"os"
	"runtime/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kestrel-tracker/kestrel/config"
	"github.com/kestrel-tracker/kestrel/pkg/log"
)

func main() {
	var configFilePath string
	var cpuProfilePath string

	rootCmd := &cobra.Command{
		Use:   "kestrel",
		Short: "BitTorrent Tracker",
		Long:  "A clustered, multi-protocol BitTorrent tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cpuProfilePath != "" {
				f, err := os.Create(cpuProfilePath)
				if err != nil {
					return err
				}
				log.Info("enabled CPU profiling", log.Fields{"path": cpuProfilePath})
				pprof.StartCPUProfile(f)
				defer pprof.StopCPUProfile()
			}

			cfg, err := config.Parse(configFilePath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if cfg.Kestrel.MetricsAddr != "" {
				go func() {
					log.Info("started serving metrics", log.Fields{"addr": cfg.Kestrel.MetricsAddr})
					metricsServer := http.Server{
						Addr:    cfg.Kestrel.MetricsAddr,
						Handler: promhttp.Handler(),
					}
					if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Fatal("metrics server failed", log.Err(err))
					}
				}()
			}

			return run(cfg)
		},
	}

	rootCmd.Flags().StringVar(&configFilePath, "config", "/etc/kestrel.yaml", "location of configuration file")
	rootCmd.Flags().StringVar(&cpuProfilePath, "cpuprofile", "", "location to save a CPU profile")
	rootCmd.AddCommand(genkeyCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal("kestrel exited", log.Err(err))
	}
}
