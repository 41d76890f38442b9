package main

import (
	"os"

	"github.com/spf13/cobra"

	_ "tenant-broadcast/docs"
)

// @title Tenant Broadcast API
// @version 1.0
// @description Per-tenant WhatsApp broadcast queue with rate limiting and progress tracking
// @host localhost:8080
// @BasePath /
// @schemes http

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

// @securityDefinitions.apikey AdminAuth
// @in header
// @name X-Admin-Token
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "tenant-broadcast",
		Short:        "Per-tenant WhatsApp broadcast service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config")

	root.AddCommand(
		newServeCmd(&configPath),
		newTokenCmd(&configPath),
		newMigrateCmd(&configPath),
	)
	return root
}
