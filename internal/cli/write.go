package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <class> [prop=value...]",
	Short: "Create an object",
	Long: `Create an object of a class and persist it.

Values are parsed by the declared property type. References take the
identifier of an existing object, reference sets and arrays a comma
separated list, DateTime values RFC 3339 or YYYY-MM-DD. An empty value
sets the property to null.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runPut,
}

var setCmd = &cobra.Command{
	Use:   "set <identifier> prop=value...",
	Short: "Change properties of an object",
	Long:  `Load an object, assign properties and persist the dirty ones.`,
	Args:  cobra.MinimumNArgs(2),
	Run:   runSet,
}

var rmCmd = &cobra.Command{
	Use:   "rm <identifier>...",
	Short: "Remove objects",
	Long:  `Remove objects together with the non-root entities they own.`,
	Args:  cobra.MinimumNArgs(1),
	Run:   runRm,
}

func runPut(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	ctx := context.Background()

	cs, err := c.Schemas.ClassSchema(args[0])
	if err != nil {
		exitError("%v", err)
	}
	obj := object.NewDynamic(cs.ClassName)
	if err := assign(ctx, c.Unit.Manager, cs, obj, args[1:]); err != nil {
		exitError("%v", err)
	}

	c.Unit.Add(obj)
	if err := c.Unit.PersistAll(ctx, false); err != nil {
		exitError("failed to persist: %v", err)
	}
	id := c.Unit.GetIdentifierByObject(obj)
	color.New(color.FgGreen).Printf("created ")
	fmt.Printf("%s %s\n", cs.ClassName, id)
}

func runSet(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	ctx := context.Background()

	obj, err := c.Unit.GetObjectByIdentifier(ctx, args[0], "")
	if err != nil {
		exitError("%v", err)
	}
	cs, err := c.Schemas.ClassSchema(obj.ClassName())
	if err != nil {
		exitError("%v", err)
	}
	if err := assign(ctx, c.Unit.Manager, cs, obj, args[1:]); err != nil {
		exitError("%v", err)
	}

	if err := c.Unit.Update(obj); err != nil {
		exitError("%v", err)
	}
	if err := c.Unit.PersistAll(ctx, false); err != nil {
		exitError("failed to persist: %v", err)
	}
	color.New(color.FgGreen).Printf("updated ")
	fmt.Printf("%s %s\n", cs.ClassName, shortID(args[0]))
}

func runRm(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	ctx := context.Background()

	for _, id := range args {
		obj, err := c.Unit.GetObjectByIdentifier(ctx, id, "")
		if err != nil {
			exitError("%v", err)
		}
		c.Unit.Remove(obj)
	}
	if err := c.Unit.PersistAll(ctx, false); err != nil {
		exitError("failed to persist: %v", err)
	}
	red := color.New(color.FgRed)
	for _, id := range args {
		red.Printf("removed ")
		fmt.Println(shortID(id))
	}
}
