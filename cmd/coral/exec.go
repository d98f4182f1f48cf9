package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coraldb/coral/pkg/client"
	"github.com/coraldb/coral/pkg/types"
	"github.com/spf13/cobra"
)

// execCmd stands in for the out-of-scope SQL frontend's submission path.
// It exposes the handful of canonical statement shapes the state machine
// needs — insert/update/delete by primary key, and begin/commit/abort —
// as cobra subcommands that each build one ReplicatedCommand, wrap it in
// a single-command CommandBatch, and submit it via Client.Propose. The
// server assigns the batch's CommandId.
var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Submit a single replicated command (stands in for the SQL frontend)",
}

var (
	execAddr   string
	execToken  string
	execTable  string
	execPK     string
	execCols   []string
	execTxID   uint64
	execIso    string
)

func execClient() (*client.Client, error) {
	if execToken != "" {
		return client.NewClientWithToken(execAddr, execToken)
	}
	return client.NewClient(execAddr)
}

// parseValue infers a Value's kind from its textual form: integer, then
// float, then boolean, else text. This mirrors the minimal literal
// grammar a real SQL frontend's lexer would produce for these statement
// shapes, without implementing a lexer.
func parseValue(s string) types.Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return types.IntegerValue(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return types.FloatValue(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return types.BooleanValue(b)
	}
	return types.TextValue(s)
}

// parseAssignments turns a list of "column=value" flags into the
// assignment map Insert/Update commands carry.
func parseAssignments(cols []string) (map[types.ColumnName]types.Value, error) {
	out := make(map[types.ColumnName]types.Value, len(cols))
	for _, kv := range cols {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --col %q, want name=value", kv)
		}
		out[types.ColumnName(parts[0])] = parseValue(parts[1])
	}
	return out, nil
}

func printResult(label string, result types.BatchResult) {
	if result.Err != nil {
		fmt.Printf("%s: error: %v\n", label, result.Err)
		return
	}
	fmt.Printf("%s: ok (command id %d)\n", label, result.Id)
}

var execCreateTableCmd = &cobra.Command{
	Use:   "create-table",
	Short: "Create a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cols, err := parseColumnDefs(execCols)
		if err != nil {
			return err
		}
		c, err := execClient()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Propose(types.CommandBatch{Commands: []types.ReplicatedCommand{
			{Kind: types.CmdCreateTable, Table: execTable, Schema: types.Schema{Columns: cols, PrimaryKey: types.ColumnName(execPK)}},
		}})
		if err != nil {
			return err
		}
		printResult("create-table", result)
		return nil
	},
}

var execDropTableCmd = &cobra.Command{
	Use:   "drop-table",
	Short: "Drop a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := execClient()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Propose(types.CommandBatch{Commands: []types.ReplicatedCommand{
			{Kind: types.CmdDropTable, Table: execTable},
		}})
		if err != nil {
			return err
		}
		printResult("drop-table", result)
		return nil
	},
}

var execInsertCmd = &cobra.Command{
	Use:   "insert",
	Short: "Insert a row by primary key",
	RunE: func(cmd *cobra.Command, args []string) error {
		assignments, err := parseAssignments(execCols)
		if err != nil {
			return err
		}
		c, err := execClient()
		if err != nil {
			return err
		}
		defer c.Close()

		row := types.Row{PK: parseValue(execPK), Columns: assignments}
		result, err := c.Propose(types.CommandBatch{Commands: []types.ReplicatedCommand{
			{Kind: types.CmdInsert, Table: execTable, Row: row, TxId: types.TxId(execTxID)},
		}})
		if err != nil {
			return err
		}
		printResult("insert", result)
		return nil
	},
}

var execUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update a row by primary key",
	RunE: func(cmd *cobra.Command, args []string) error {
		assignments, err := parseAssignments(execCols)
		if err != nil {
			return err
		}
		c, err := execClient()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Propose(types.CommandBatch{Commands: []types.ReplicatedCommand{
			{Kind: types.CmdUpdate, Table: execTable, Predicate: types.Predicate{PK: parseValue(execPK)}, Assignments: assignments, TxId: types.TxId(execTxID)},
		}})
		if err != nil {
			return err
		}
		printResult("update", result)
		return nil
	},
}

var execDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a row by primary key",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := execClient()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Propose(types.CommandBatch{Commands: []types.ReplicatedCommand{
			{Kind: types.CmdDelete, Table: execTable, Predicate: types.Predicate{PK: parseValue(execPK)}, TxId: types.TxId(execTxID)},
		}})
		if err != nil {
			return err
		}
		printResult("delete", result)
		return nil
	},
}

var execBeginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Begin a transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := execClient()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Propose(types.CommandBatch{Commands: []types.ReplicatedCommand{
			{Kind: types.CmdBeginTx, TxId: types.TxId(execTxID), Isolation: types.IsolationLevel(execIso)},
		}})
		if err != nil {
			return err
		}
		printResult("begin", result)
		return nil
	},
}

var execCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit a transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := execClient()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Propose(types.CommandBatch{Commands: []types.ReplicatedCommand{
			{Kind: types.CmdCommitTx, TxId: types.TxId(execTxID)},
		}})
		if err != nil {
			return err
		}
		printResult("commit", result)
		return nil
	},
}

var execAbortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Abort a transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := execClient()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Propose(types.CommandBatch{Commands: []types.ReplicatedCommand{
			{Kind: types.CmdAbortTx, TxId: types.TxId(execTxID)},
		}})
		if err != nil {
			return err
		}
		printResult("abort", result)
		return nil
	},
}

var (
	readLinearizable bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a row by primary key (stale, or linearizable via --linearizable)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := execClient()
		if err != nil {
			return err
		}
		defer c.Close()

		row, found, err := c.Read(execTable, parseValue(execPK), readLinearizable)
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(no row)")
			return nil
		}
		fmt.Printf("pk=%v\n", row.PK)
		for name, v := range row.Columns {
			fmt.Printf("  %s = %v\n", name, v)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{execInsertCmd, execUpdateCmd, execDeleteCmd, readCmd} {
		c.Flags().StringVar(&execTable, "table", "", "table name")
		c.Flags().StringVar(&execPK, "pk", "", "primary key literal")
		_ = c.MarkFlagRequired("table")
		_ = c.MarkFlagRequired("pk")
	}
	for _, c := range []*cobra.Command{execCreateTableCmd, execDropTableCmd} {
		c.Flags().StringVar(&execTable, "table", "", "table name")
		_ = c.MarkFlagRequired("table")
	}
	execCreateTableCmd.Flags().StringVar(&execPK, "pk", "", "primary key column name")
	_ = execCreateTableCmd.MarkFlagRequired("pk")
	execCreateTableCmd.Flags().StringArrayVar(&execCols, "col", nil, "column definition name:type[:nullable] (repeatable)")
	execInsertCmd.Flags().StringArrayVar(&execCols, "col", nil, "column assignment name=value (repeatable)")
	execUpdateCmd.Flags().StringArrayVar(&execCols, "col", nil, "column assignment name=value (repeatable)")

	for _, c := range []*cobra.Command{execInsertCmd, execUpdateCmd, execDeleteCmd} {
		c.Flags().Uint64Var(&execTxID, "tx-id", 0, "transaction id to write under (0 = autocommit)")
	}

	for _, c := range []*cobra.Command{execCreateTableCmd, execDropTableCmd, execInsertCmd, execUpdateCmd, execDeleteCmd, execBeginCmd, execCommitCmd, execAbortCmd, readCmd} {
		c.Flags().StringVar(&execAddr, "addr", "127.0.0.1:7700", "Admin RPC address")
		c.Flags().StringVar(&execToken, "token", "", "join token, to request a CLI certificate if none is on disk yet")
	}

	for _, c := range []*cobra.Command{execBeginCmd, execCommitCmd, execAbortCmd} {
		c.Flags().Uint64Var(&execTxID, "tx-id", 0, "transaction id")
		_ = c.MarkFlagRequired("tx-id")
	}
	execBeginCmd.Flags().StringVar(&execIso, "isolation", string(types.ReadCommitted), "isolation level: read_uncommitted, read_committed, repeatable_read, serializable")

	readCmd.Flags().BoolVar(&readLinearizable, "linearizable", false, "require a linearizable read via ReadIndex")

	execCmd.AddCommand(execCreateTableCmd, execDropTableCmd, execInsertCmd, execUpdateCmd, execDeleteCmd, execBeginCmd, execCommitCmd, execAbortCmd)
	rootCmd.AddCommand(readCmd)
}
