package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List the declared classes",
	Long:  `Display the classes of the schema file with their properties.`,
	Run:   runClasses,
}

func runClasses(cmd *cobra.Command, args []string) {
	_, schemas, _ := initConfig()

	names := schemas.ClassNames()
	if len(names) == 0 {
		fmt.Println("No classes declared")
		return
	}

	cyan := color.New(color.FgCyan)
	for _, name := range names {
		cs, err := schemas.ClassSchema(name)
		if err != nil {
			exitError("%v", err)
		}
		var flags []string
		flags = append(flags, cs.ModelType.String())
		if cs.AggregateRoot {
			flags = append(flags, "root")
		}
		if cs.LazyLoadable {
			flags = append(flags, "lazy")
		}
		cyan.Printf("%s", cs.ClassName)
		fmt.Printf(" (%s)\n", strings.Join(flags, ", "))

		for _, p := range cs.Properties() {
			typ := p.Type
			if p.ElementType != "" {
				typ += "<" + p.ElementType + ">"
			}
			var attrs []string
			if p.Identity {
				attrs = append(attrs, "identity")
			}
			if p.Lazy {
				attrs = append(attrs, "lazy")
			}
			if p.Transient {
				attrs = append(attrs, "transient")
			}
			fmt.Printf("    %-20s %s", p.Name, typ)
			if len(attrs) > 0 {
				color.New(color.FgYellow).Printf(" [%s]", strings.Join(attrs, ", "))
			}
			fmt.Println()
		}
	}
}
