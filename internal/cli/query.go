package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kilupskalvis/persistence/internal/qom"
	"github.com/kilupskalvis/persistence/internal/query"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <class>",
	Short: "Find objects of a class",
	Long: `Find objects of a class matching an optional expression.

Examples:
  persistctl query Post --where 'views >= 10 and lower(title) == "go"'
  persistctl query Post --where 'like(title, "Go%")' --order views:desc --limit 5
  persistctl query Post --where 'blog.name in ["tech", "food"]' --first`,
	Args: cobra.ExactArgs(1),
	Run:  runQuery,
}

var countCmd = &cobra.Command{
	Use:   "count <class>",
	Short: "Count objects of a class",
	Long:  `Count the objects of a class matching an optional expression.`,
	Args:  cobra.ExactArgs(1),
	Run:   runCount,
}

var (
	queryWhere  string
	queryOrder  []string
	queryLimit  int
	queryOffset int
	queryFirst  bool
	countWhere  string
)

func init() {
	queryCmd.Flags().StringVarP(&queryWhere, "where", "w", "", "Filter expression")
	queryCmd.Flags().StringSliceVarP(&queryOrder, "order", "o", nil, "Order by property, prop[:desc] (repeatable)")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 0, "Limit the number of results")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "Skip leading results")
	queryCmd.Flags().BoolVar(&queryFirst, "first", false, "Show only the first result")

	countCmd.Flags().StringVarP(&countWhere, "where", "w", "", "Filter expression")
}

func runQuery(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	ctx := context.Background()

	q, err := buildQuery(c.Unit.CreateQueryForType(args[0]), queryWhere, queryOrder, queryLimit, queryOffset)
	if err != nil {
		exitError("%v", err)
	}

	result := q.Execute()
	if queryFirst {
		obj, err := result.GetFirst(ctx)
		if err != nil {
			exitError("%v", err)
		}
		if obj == nil {
			fmt.Println("No match")
			return
		}
		if err := printObject(os.Stdout, c.Unit.Manager, c.Schemas, obj); err != nil {
			exitError("%v", err)
		}
		return
	}

	objects, err := result.ToArray(ctx)
	if err != nil {
		exitError("%v", err)
	}
	for i, obj := range objects {
		if i > 0 {
			fmt.Println()
		}
		if err := printObject(os.Stdout, c.Unit.Manager, c.Schemas, obj); err != nil {
			exitError("%v", err)
		}
	}
	fmt.Printf("\n%d object(s)\n", len(objects))
}

func runCount(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	q, err := buildQuery(c.Unit.CreateQueryForType(args[0]), countWhere, nil, 0, 0)
	if err != nil {
		exitError("%v", err)
	}
	n, err := q.Count(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	fmt.Println(n)
}

// buildQuery applies the command line filter, orderings and window to q.
// Zero limit and offset leave the query unbounded.
func buildQuery(q *query.Query, where string, order []string, limit, offset int) (*query.Query, error) {
	if where != "" {
		constraint, err := parseWhere(q, where)
		if err != nil {
			return nil, err
		}
		q.Matching(constraint)
	}

	var orderings []qom.Ordering
	for _, s := range order {
		name, dir, _ := strings.Cut(s, ":")
		o := qom.Ordering{Property: name}
		switch strings.ToLower(dir) {
		case "", "asc":
		case "desc":
			o.Direction = qom.Descending
		default:
			return nil, fmt.Errorf("invalid order direction %q", dir)
		}
		orderings = append(orderings, o)
	}
	if len(orderings) > 0 {
		q.SetOrderings(orderings...)
	}

	if limit != 0 {
		if _, err := q.SetLimit(limit); err != nil {
			return nil, err
		}
	}
	if offset != 0 {
		if _, err := q.SetOffset(offset); err != nil {
			return nil, err
		}
	}
	return q, nil
}
