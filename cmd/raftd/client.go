package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quorumforge/raftd/pkg/raftclient"
	"github.com/spf13/cobra"
)

func dialClient(serversCSV string) (*raftclient.Client, error) {
	var servers []string
	for _, s := range strings.Split(serversCSV, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			servers = append(servers, s)
		}
	}
	return raftclient.New(servers, 2*time.Second)
}

var commandCmd = &cobra.Command{
	Use:   "command SM_ID FN_ID DATA",
	Short: "Submit a command through c_command",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, _ := cmd.Flags().GetString("servers")
		smID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("sm_id: %w", err)
		}
		fnID, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("fn_id: %w", err)
		}

		c, err := dialClient(servers)
		if err != nil {
			return err
		}
		defer c.Close()

		result, id, term, err := c.Execute(smID, fnID, []byte(args[2]))
		if err != nil {
			return err
		}
		fmt.Printf("committed id=%d term=%d\n", id, term)
		fmt.Printf("%s\n", result.Data)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query SM_ID FN_ID DATA",
	Short: "Run a read-only dispatch through c_query",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, _ := cmd.Flags().GetString("servers")
		smID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("sm_id: %w", err)
		}
		fnID, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("fn_id: %w", err)
		}

		c, err := dialClient(servers)
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Query(smID, fnID, 0, 0, []byte(args[2]))
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", result.Data)
		return nil
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "cluster-info",
	Short: "Display the cluster's known members and current leader",
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, _ := cmd.Flags().GetString("servers")

		c, err := dialClient(servers)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.ClusterInfo()
		if err != nil {
			return err
		}
		fmt.Printf("Leader: %d\n", info.LeaderID)
		fmt.Println("Members:")
		for _, m := range info.Members {
			fmt.Printf("  %d\t%s\n", m.ID, m.Address)
		}
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping MEMBER_ID",
	Short: "Send a liveness pulse for member_id through c_ping",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, _ := cmd.Flags().GetString("servers")
		memberID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("member_id: %w", err)
		}

		c, err := dialClient(servers)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Ping(memberID)
	},
}

var putOfflineCmd = &cobra.Command{
	Use:   "put-offline",
	Short: "Ask the currently connected node to step down gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, _ := cmd.Flags().GetString("servers")

		c, err := dialClient(servers)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.PutOffline()
	},
}

func init() {
	for _, cmd := range []*cobra.Command{commandCmd, queryCmd, clusterInfoCmd, pingCmd, putOfflineCmd} {
		cmd.Flags().String("servers", "127.0.0.1:2001", "Comma-separated addresses to probe")
	}
}
