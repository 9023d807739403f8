package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pthm/tenantsql"
	"github.com/pthm/tenantsql/internal/cli"
	"github.com/pthm/tenantsql/pkg/parser"
)

var (
	rewriteTenant       string
	rewriteStringTenant bool
	rewriteFile         string
	rewriteScript       bool
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [sql]",
	Short: "Scope a SELECT statement to a tenant",
	Long: `Rewrite a SELECT statement so that it only reads the rows of one tenant.

The statement is taken from the argument, from --file, or from stdin. The
rewritten statement is printed to stdout. Rejected statements exit with
status 3 and print nothing.`,
	Example: `  # Rewrite a statement for tenant 7
  tenantsql rewrite --tenant 7 "SELECT * FROM crm.accounts"

  # Tenant ids that look numeric can be forced to strings
  tenantsql rewrite --tenant 007 --string-tenant "SELECT * FROM crm.accounts"

  # Rewrite every statement of a script
  tenantsql rewrite --tenant acme --script --file reports.sql`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := resolveTenant(rewriteTenant, rewriteStringTenant)
		if err != nil {
			return err
		}

		input, err := readInput(cmd.InOrStdin(), rewriteFile, args)
		if err != nil {
			return err
		}

		statements := []string{input}
		if rewriteScript {
			if statements, err = parser.Split(input); err != nil {
				return cli.RejectedError("splitting script", err)
			}
		}

		rw := newRewriter()
		out := make([]string, 0, len(statements))
		for i, stmt := range statements {
			rewritten, err := rw.Rewrite(stmt, tenant)
			if err != nil {
				if rewriteScript {
					return cli.RejectedError(fmt.Sprintf("rewriting statement %d", i+1), err)
				}
				return cli.RejectedError("rewriting statement", err)
			}
			out = append(out, rewritten)
		}

		if rewriteScript {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(out, ";\n")+";")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), out[0])
		return nil
	},
}

func init() {
	f := rewriteCmd.Flags()
	f.StringVarP(&rewriteTenant, "tenant", "t", "", "tenant id (default: tenant.id from config)")
	f.BoolVar(&rewriteStringTenant, "string-tenant", false, "treat the tenant id as a string even if it is numeric")
	f.StringVarP(&rewriteFile, "file", "f", "", "read the statement from a file")
	f.BoolVar(&rewriteScript, "script", false, "rewrite every statement of a semicolon separated script")
}

// resolveTenant picks the tenant from the flag or the configuration.
func resolveTenant(flagTenant string, forceString bool) (tenantsql.Tenant, error) {
	id := resolveString(flagTenant, cfg.Tenant.ID)
	if id == "" {
		return tenantsql.Tenant{}, cli.ConfigError("tenant is required (use --tenant or set tenant.id in config)", tenantsql.ErrNoTenant)
	}
	if forceString {
		return tenantsql.TenantString(id), nil
	}
	t, err := tenantsql.ParseTenant(id)
	if err != nil {
		return tenantsql.Tenant{}, cli.ConfigError("parsing tenant", err)
	}
	return t, nil
}

// readInput returns the SQL text from the positional argument, the file
// flag, or stdin, in that order.
func readInput(stdin io.Reader, file string, args []string) (string, error) {
	if len(args) > 0 && file != "" {
		return "", cli.ConfigError("give the statement either as an argument or with --file, not both", nil)
	}
	if len(args) > 0 {
		return args[0], nil
	}

	var (
		data []byte
		err  error
	)
	if file != "" && file != "-" {
		data, err = os.ReadFile(file)
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", cli.GeneralError("reading input", err)
	}

	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", cli.ConfigError("no statement given", nil)
	}
	return sql, nil
}
