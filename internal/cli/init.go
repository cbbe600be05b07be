package cli

import (
	"fmt"
	"os"

	"github.com/kilupskalvis/persistence/internal/config"
	"github.com/kilupskalvis/persistence/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new persist directory",
	Long: `Initialize a new persist directory in the current directory.
This creates a .persist directory holding the config, the class schema
file and the object store.`,
	Run: runInit,
}

var initBackend string

func init() {
	initCmd.Flags().StringVar(&initBackend, "backend", store.BackendBolt, "Storage backend (bolt, sqlite)")
}

func runInit(cmd *cobra.Command, args []string) {
	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	if _, err := config.FindRoot(cwd); err == nil {
		exitError("persist directory already exists")
	}

	cfg, err := config.Initialize(cwd, initBackend)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	st, err := store.Open(cfg.Backend, cfg.DatabasePath())
	if err != nil {
		os.RemoveAll(cfg.Path())
		exitError("failed to create store: %v", err)
	}
	defer st.Close()

	fmt.Printf("Initialized empty %s store in %s/\n", cfg.Backend, config.PersistDir)
	fmt.Printf("Declare your classes in %s\n", cfg.SchemaPath())
}
