package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/tenantsql/internal/cli"
)

var tablesFile string

var tablesCmd = &cobra.Command{
	Use:   "tables [sql]",
	Short: "List the tables a statement reads",
	Long: `List the physical tables a SELECT statement reads from, one per line, in
order of first appearance. Names bound by WITH are not tables and are not
listed. Statements that rewrite would reject are rejected here too.`,
	Example: `  tenantsql tables "WITH c AS (SELECT * FROM crm.accounts) SELECT * FROM c JOIN orders USING (id)"`,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(cmd.InOrStdin(), tablesFile, args)
		if err != nil {
			return err
		}

		tables, err := newRewriter().Tables(input)
		if err != nil {
			return cli.RejectedError("listing tables", err)
		}
		for _, t := range tables {
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
		}
		return nil
	},
}

func init() {
	tablesCmd.Flags().StringVarP(&tablesFile, "file", "f", "", "read the statement from a file")
}
