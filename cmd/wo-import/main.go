// wo-import reconciles a production schedule workbook into orders from the command line.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/wo-import --product=CT --file=schedule.xlsx
//
// With --dry-run the import runs against an in-memory store seeded from --definitions (YAML)
// and nothing is written to the database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/models"
	"github.com/mmdatafocus/wotrack_backend/utils"
	"github.com/mmdatafocus/wotrack_backend/workflow"
)

func main() {
	productID := flag.String("product", "", "Required: product id")
	filePath := flag.String("file", "", "Required: path to the .xlsx workbook")
	modeFlag := flag.String("mode", string(workflow.ImportModeUpdate), "update or skip-existing")
	dryRun := flag.Bool("dry-run", false, "Import into an in-memory store instead of the database")
	definitionsPath := flag.String("definitions", config.ProcessDefinitionsFile(), "YAML process definitions (required with --dry-run)")
	flag.Parse()

	if strings.TrimSpace(*productID) == "" || strings.TrimSpace(*filePath) == "" {
		fmt.Fprintln(os.Stderr, "--product and --file are required")
		os.Exit(1)
	}
	mode, err := workflow.ParseImportMode(*modeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo models.Repository
	var definitions models.ProcessDefinitionStore
	if *dryRun {
		if strings.TrimSpace(*definitionsPath) == "" {
			fmt.Fprintln(os.Stderr, "--definitions is required with --dry-run")
			os.Exit(1)
		}
		defs, err := models.LoadProcessDefinitionsFile(*definitionsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load definitions: %v\n", err)
			os.Exit(1)
		}
		repo = models.NewMemoryRepository()
		definitions = models.NewMemoryProcessDefinitionStore(defs...)
	} else {
		config.ConnectDatabaseWithRetry()
		db := config.GetDB()
		if db == nil {
			fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
			os.Exit(1)
		}
		repo = models.NewGormRepository(db)
		definitions = models.NewGormProcessDefinitionStore(db)
	}

	def, err := definitions.Get(ctx, *productID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load process definition: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open workbook: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	reconciler := workflow.NewReconciler(repo, workflow.NewKeyedMutex())
	outcome, importErr := reconciler.ImportWorkbook(ctx, *def, f, mode)

	out, err := utils.MarshalToJSON(outcome)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode outcome: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
	if importErr != nil {
		fmt.Fprintf(os.Stderr, "import stopped: %v\n", importErr)
		os.Exit(2)
	}
}
