/*
main.go - Application entry point

PURPOSE:
  Runs the planner command line. `planner serve` starts the HTTP API;
  see `planner --help` for the other commands.

EXAMPLES:
  # Run the API on the default SQLite file
  ./planner serve

  # In-memory store on a different port
  PLANNER_STORAGE_DRIVER=memory ./planner serve --addr :3000

  # Plan a paycheck and record it
  ./planner plan --user alice --paycheck 2500 --pay-date 2025-03-01 --apply

SEE ALSO:
  - cli/root.go: Command tree
  - config/config.go: Configuration file and environment
*/
package main

import (
	"context"

	"github.com/warp/debt-planner/cli"
)

func main() {
	cli.Execute(context.Background())
}
