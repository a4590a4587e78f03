// seed-process loads process definitions from a YAML file into the database.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-process --file=process.yaml
//
// --templates writes an empty import workbook per product into the given directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/models"
	"github.com/mmdatafocus/wotrack_backend/workflow"
	"github.com/sirupsen/logrus"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

func main() {
	filePath := flag.String("file", config.ProcessDefinitionsFile(), "YAML process definitions")
	migrate := flag.Bool("migrate", false, "Run AutoMigrate before seeding")
	templatesDir := flag.String("templates", "", "Optional: directory to write import templates into")
	flag.Parse()

	if strings.TrimSpace(*filePath) == "" {
		fmt.Fprintln(os.Stderr, "--file (or PROCESS_DEFINITIONS_FILE) is required")
		os.Exit(1)
	}
	defs, err := models.LoadProcessDefinitionsFile(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load definitions: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	// cached definitions are invalidated on save
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	}
	if *migrate {
		models.MigrateTable()
	}

	logger := config.GetLogger()
	if err := models.SeedProcessDefinitions(ctx, models.NewGormProcessDefinitionStore(db), defs); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed definitions: %v\n", err)
		os.Exit(1)
	}
	for _, def := range defs {
		logger.WithFields(logrus.Fields{
			"product_id": def.ProductId,
			"steps":      len(def.Steps),
		}).Info("seeded process definition")
	}

	if *templatesDir == "" {
		return
	}
	if err := os.MkdirAll(*templatesDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", *templatesDir, err)
		os.Exit(1)
	}
	for _, def := range defs {
		buf, err := workflow.BuildTemplate(def)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build template for %s: %v\n", def.ProductId, err)
			os.Exit(1)
		}
		name := def.Name
		if name == "" {
			name = def.ProductId
		}
		path := filepath.Join(*templatesDir, unsafeFileChars.ReplaceAllString(name, "_")+"_template.xlsx")
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Println(path)
	}
}
