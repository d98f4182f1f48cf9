package main

import (
	"fmt"
	"strings"

	"github.com/coraldb/coral/pkg/standalone"
	"github.com/coraldb/coral/pkg/types"
	"github.com/spf13/cobra"
)

// standaloneCmd runs commands against a local, non-replicated instance:
// Storage plus WAL, no Raft. Useful for single-node use and for
// inspecting a data directory without standing a cluster up.
var standaloneCmd = &cobra.Command{
	Use:   "standalone",
	Short: "Run commands against a local, non-replicated data directory",
}

var standaloneDataDir string

func withStandaloneNode(fn func(*standalone.Node) error) error {
	n, err := standalone.Open(standaloneDataDir, "")
	if err != nil {
		return err
	}
	defer n.Close()
	return fn(n)
}

// parseColumnDefs turns "name:type" / "name:type:nullable" flags into a
// schema column list.
func parseColumnDefs(defs []string) ([]types.ColumnDef, error) {
	out := make([]types.ColumnDef, 0, len(defs))
	for _, d := range defs {
		parts := strings.Split(d, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return nil, fmt.Errorf("invalid --col %q, want name:type[:nullable]", d)
		}
		col := types.ColumnDef{Name: types.ColumnName(parts[0]), Type: types.ColumnType(parts[1])}
		if len(parts) == 3 {
			if parts[2] != "nullable" {
				return nil, fmt.Errorf("invalid --col %q, third field must be %q", d, "nullable")
			}
			col.Nullable = true
		}
		out = append(out, col)
	}
	return out, nil
}

var standaloneCreateTableCmd = &cobra.Command{
	Use:   "create-table",
	Short: "Create a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cols, err := parseColumnDefs(execCols)
		if err != nil {
			return err
		}
		return withStandaloneNode(func(n *standalone.Node) error {
			res, err := n.Apply([]types.ReplicatedCommand{{
				Kind:   types.CmdCreateTable,
				Table:  execTable,
				Schema: types.Schema{Columns: cols, PrimaryKey: types.ColumnName(execPK)},
			}})
			if err != nil {
				return err
			}
			printResult("create-table", res)
			return nil
		})
	},
}

var standaloneInsertCmd = &cobra.Command{
	Use:   "insert",
	Short: "Insert a row by primary key",
	RunE: func(cmd *cobra.Command, args []string) error {
		assignments, err := parseAssignments(execCols)
		if err != nil {
			return err
		}
		return withStandaloneNode(func(n *standalone.Node) error {
			res, err := n.Apply([]types.ReplicatedCommand{{
				Kind:  types.CmdInsert,
				Table: execTable,
				Row:   types.Row{PK: parseValue(execPK), Columns: assignments},
			}})
			if err != nil {
				return err
			}
			printResult("insert", res)
			return nil
		})
	},
}

var standaloneDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a row by primary key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStandaloneNode(func(n *standalone.Node) error {
			res, err := n.Apply([]types.ReplicatedCommand{{
				Kind:      types.CmdDelete,
				Table:     execTable,
				Predicate: types.Predicate{PK: parseValue(execPK)},
			}})
			if err != nil {
				return err
			}
			printResult("delete", res)
			return nil
		})
	},
}

var standaloneReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a row by primary key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStandaloneNode(func(n *standalone.Node) error {
			row, found := n.Read(execTable, parseValue(execPK))
			if !found {
				fmt.Println("(no row)")
				return nil
			}
			fmt.Printf("pk=%v\n", row.PK)
			for name, v := range row.Columns {
				fmt.Printf("  %s = %v\n", name, v)
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{standaloneCreateTableCmd, standaloneInsertCmd, standaloneDeleteCmd, standaloneReadCmd} {
		c.Flags().StringVar(&standaloneDataDir, "data-dir", "./coral-data", "data directory")
		c.Flags().StringVar(&execTable, "table", "", "table name")
		_ = c.MarkFlagRequired("table")
	}
	for _, c := range []*cobra.Command{standaloneInsertCmd, standaloneDeleteCmd, standaloneReadCmd} {
		c.Flags().StringVar(&execPK, "pk", "", "primary key literal")
		_ = c.MarkFlagRequired("pk")
	}
	standaloneCreateTableCmd.Flags().StringVar(&execPK, "pk", "", "primary key column name")
	_ = standaloneCreateTableCmd.MarkFlagRequired("pk")
	standaloneCreateTableCmd.Flags().StringArrayVar(&execCols, "col", nil, "column definition name:type[:nullable] (repeatable)")
	standaloneInsertCmd.Flags().StringArrayVar(&execCols, "col", nil, "column assignment name=value (repeatable)")

	standaloneCmd.AddCommand(standaloneCreateTableCmd, standaloneInsertCmd, standaloneDeleteCmd, standaloneReadCmd)
	rootCmd.AddCommand(standaloneCmd)
}
