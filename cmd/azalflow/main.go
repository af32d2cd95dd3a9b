package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MASITH-developpement/Azalscore-sub010/internal/cli"
	internal_http "github.com/MASITH-developpement/Azalscore-sub010/internal/http"
	"github.com/MASITH-developpement/Azalscore-sub010/internal/log"
	internal_storage "github.com/MASITH-developpement/Azalscore-sub010/internal/storage"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/engine"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

var rootCmd = &cobra.Command{Use: "azalflow"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workflow engine and its HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.GetLogger().Debugf("No .env file found: %v", err)
		}

		connStr, _ := cmd.Flags().GetString("db")
		if connStr == "" {
			connStr = os.Getenv("DATABASE_URL")
		}
		if connStr == "" {
			fmt.Println("Error: --db flag or DATABASE_URL required")
			os.Exit(1)
		}
		port, _ := cmd.Flags().GetString("port")

		store, err := internal_storage.InitStore(connStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		eng := engine.NewEngine(ctx, store, engine.Collaborators{}, log.GetLogger())

		// re-register active definitions so event and cron triggers survive restarts
		defs, err := store.ListDefinitions("")
		if err != nil {
			log.GetLogger().Errorf("Failed to load definitions: %v", err)
			os.Exit(1)
		}
		for _, def := range defs {
			if def.Status != models.ActiveWorkflowStatus {
				continue
			}
			if err := eng.RegisterDefinition(def); err != nil {
				log.GetLogger().Errorf("Failed to register workflow %s: %v", def.ID, err)
			}
		}

		scheduler := engine.NewScheduler(eng, 0, log.GetLogger())
		scheduler.Start(ctx)

		if err := internal_http.StartServer(port, store, eng); err != nil {
			log.GetLogger().Errorf("Server stopped: %v", err)
			os.Exit(1)
		}
	},
}

func main() {
	serveCmd.Flags().String("port", "8080", "HTTP listen port")
	rootCmd.AddCommand(serveCmd)
	rootCmd.PersistentFlags().String("db", "", "Database connection string")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
