package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <identifier>",
	Short: "Show an object",
	Long:  `Load an object by identifier and display its properties.`,
	Args:  cobra.ExactArgs(1),
	Run:   runGet,
}

var getClass string

func init() {
	getCmd.Flags().StringVar(&getClass, "class", "", "Require the object to be of this class")
}

func runGet(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	obj, err := c.Unit.GetObjectByIdentifier(context.Background(), args[0], getClass)
	if err != nil {
		exitError("%v", err)
	}
	if err := printObject(os.Stdout, c.Unit.Manager, c.Schemas, obj); err != nil {
		exitError("%v", err)
	}
}
