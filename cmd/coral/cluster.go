package main

import (
	"fmt"
	"time"

	"github.com/coraldb/coral/pkg/client"
	"github.com/coraldb/coral/pkg/manager"
	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Form, join, and inspect a CoralDB cluster",
}

var (
	bootstrapNodeID string
	bootstrapAddr   string
)

var clusterBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Form a brand-new single-node cluster (refuses if persistent state already exists)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   bootstrapNodeID,
			BindAddr: bootstrapAddr,
			DataDir:  dataDirFlag,
		})
		if err != nil {
			return err
		}
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		if err := SaveNodeConfig(NodeConfig{
			NodeID:   bootstrapNodeID,
			BindAddr: bootstrapAddr,
			DataDir:  dataDirFlag,
		}); err != nil {
			return fmt.Errorf("failed to persist node identity: %w", err)
		}
		if err := mgr.Shutdown(); err != nil {
			return err
		}
		fmt.Printf("cluster bootstrapped: node %s at %s (data dir %s)\n", bootstrapNodeID, bootstrapAddr, dataDirFlag)
		fmt.Println("run 'coral node start' to bring the node online")
		return nil
	},
}

var (
	joinNodeID     string
	joinAddr       string
	joinLeaderAddr string
	joinToken      string
)

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join an existing cluster as a new Raft voter",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   joinNodeID,
			BindAddr: joinAddr,
			DataDir:  dataDirFlag,
		})
		if err != nil {
			return err
		}
		if err := mgr.Join(joinLeaderAddr, joinToken); err != nil {
			return fmt.Errorf("join failed: %w", err)
		}
		if err := SaveNodeConfig(NodeConfig{
			NodeID:   joinNodeID,
			BindAddr: joinAddr,
			DataDir:  dataDirFlag,
			Peers:    []string{joinLeaderAddr},
		}); err != nil {
			return fmt.Errorf("failed to persist node identity: %w", err)
		}
		if err := mgr.Shutdown(); err != nil {
			return err
		}
		fmt.Printf("joined cluster via %s: node %s at %s\n", joinLeaderAddr, joinNodeID, joinAddr)
		fmt.Println("run 'coral node start' to bring the node online")
		return nil
	},
}

var (
	clusterInfoAddr  string
	clusterInfoLocal bool
)

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a running node's Raft role, term, and apply progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		var c *client.Client
		var err error
		if clusterInfoLocal {
			c, err = client.NewLocalClient(clusterInfoAddr)
		} else {
			c, err = client.NewClient(clusterInfoAddr)
		}
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.Info()
		if err != nil {
			return err
		}
		fmt.Printf("role:         %s\n", info.Role)
		fmt.Printf("term:         %d\n", info.Term)
		fmt.Printf("commit_index: %d\n", info.CommitIndex)
		fmt.Printf("apply_index:  %d\n", info.ApplyIndex)
		fmt.Printf("log_len:      %d\n", info.LogLen)
		return nil
	},
}

var (
	tokenAddr string
	tokenRole string
)

var clusterTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a join token on the cluster leader",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.NewClient(tokenAddr)
		if err != nil {
			return err
		}
		defer c.Close()

		token, expires, err := c.GenerateToken(tokenRole)
		if err != nil {
			return err
		}
		fmt.Printf("token:   %s\n", token)
		fmt.Printf("role:    %s\n", tokenRole)
		fmt.Printf("expires: %s\n", expires.Format(time.RFC3339))
		return nil
	},
}

var (
	addPeerAddr     string
	addPeerID       string
	addPeerPeerAddr string
	addPeerToken    string
)

var clusterAddPeerCmd = &cobra.Command{
	Use:   "add-peer",
	Short: "Ask the cluster leader to admit a new Raft voter",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.NewClient(addPeerAddr)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.AddPeer(addPeerID, addPeerPeerAddr, addPeerToken); err != nil {
			return err
		}
		fmt.Printf("peer %s@%s added\n", addPeerID, addPeerPeerAddr)
		return nil
	},
}

var (
	removePeerAddr string
	removePeerID   string
)

var clusterRemovePeerCmd = &cobra.Command{
	Use:   "remove-peer",
	Short: "Ask the cluster leader to remove a Raft voter",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.NewClient(removePeerAddr)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.RemovePeer(removePeerID); err != nil {
			return err
		}
		fmt.Printf("peer %s removed\n", removePeerID)
		return nil
	},
}

func init() {
	clusterBootstrapCmd.Flags().StringVar(&bootstrapNodeID, "node-id", "", "id for the bootstrapping node")
	clusterBootstrapCmd.Flags().StringVar(&bootstrapAddr, "bind-addr", "127.0.0.1:7800", "Raft bind address")
	_ = clusterBootstrapCmd.MarkFlagRequired("node-id")

	clusterJoinCmd.Flags().StringVar(&joinNodeID, "node-id", "", "id for this node")
	clusterJoinCmd.Flags().StringVar(&joinAddr, "bind-addr", "127.0.0.1:7800", "Raft bind address")
	clusterJoinCmd.Flags().StringVar(&joinLeaderAddr, "leader", "", "Admin RPC address of the cluster leader")
	clusterJoinCmd.Flags().StringVar(&joinToken, "token", "", "join token minted by the leader")
	_ = clusterJoinCmd.MarkFlagRequired("node-id")
	_ = clusterJoinCmd.MarkFlagRequired("leader")
	_ = clusterJoinCmd.MarkFlagRequired("token")

	clusterInfoCmd.Flags().StringVar(&clusterInfoAddr, "addr", "127.0.0.1:7700", "Admin RPC address")
	clusterInfoCmd.Flags().BoolVar(&clusterInfoLocal, "local", false, "use the node's loopback read-only listener (no TLS; pair with --addr 127.0.0.1:7702)")

	clusterTokenCmd.Flags().StringVar(&tokenAddr, "addr", "127.0.0.1:7700", "Admin RPC address of the leader")
	clusterTokenCmd.Flags().StringVar(&tokenRole, "role", "node", "token role: node or cli")

	clusterAddPeerCmd.Flags().StringVar(&addPeerAddr, "addr", "127.0.0.1:7700", "Admin RPC address of the leader")
	clusterAddPeerCmd.Flags().StringVar(&addPeerID, "id", "", "id of the joining node")
	clusterAddPeerCmd.Flags().StringVar(&addPeerPeerAddr, "peer-addr", "", "Raft bind address of the joining node")
	clusterAddPeerCmd.Flags().StringVar(&addPeerToken, "token", "", "join token")
	_ = clusterAddPeerCmd.MarkFlagRequired("id")
	_ = clusterAddPeerCmd.MarkFlagRequired("peer-addr")

	clusterRemovePeerCmd.Flags().StringVar(&removePeerAddr, "addr", "127.0.0.1:7700", "Admin RPC address of the leader")
	clusterRemovePeerCmd.Flags().StringVar(&removePeerID, "id", "", "id of the node to remove")
	_ = clusterRemovePeerCmd.MarkFlagRequired("id")

	clusterCmd.AddCommand(clusterBootstrapCmd, clusterJoinCmd, clusterInfoCmd, clusterTokenCmd, clusterAddPeerCmd, clusterRemovePeerCmd)
}
