package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quorumforge/raftd/internal/consensus"
	"github.com/quorumforge/raftd/internal/heartbeat"
	"github.com/quorumforge/raftd/internal/logstore"
	"github.com/quorumforge/raftd/internal/snapshotstore"
	"github.com/quorumforge/raftd/internal/statemachine"
	"github.com/quorumforge/raftd/internal/statemachine/configsm"
	nodeconfig "github.com/quorumforge/raftd/pkg/config"
	"github.com/quorumforge/raftd/pkg/events"
	"github.com/quorumforge/raftd/pkg/hashid"
	"github.com/quorumforge/raftd/pkg/logging"
	"github.com/quorumforge/raftd/pkg/metrics"
	"github.com/quorumforge/raftd/pkg/raftclient"
	"github.com/quorumforge/raftd/pkg/storage"
	"github.com/quorumforge/raftd/pkg/transport"
	"github.com/quorumforge/raftd/pkg/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	logging.Init(logging.Config{
		Level:      logging.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this process as one node of a raftd cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		serversCSV, _ := cmd.Flags().GetString("servers")
		maxLogCapacity, _ := cmd.Flags().GetInt("max-log-capacity")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		configPath, _ := cmd.Flags().GetString("config")

		var servers []string
		if configPath != "" {
			fileCfg, err := nodeconfig.Load(configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && fileCfg.Addr != "" {
				addr = fileCfg.Addr
			}
			if !cmd.Flags().Changed("data-dir") && fileCfg.DataDir != "" {
				dataDir = fileCfg.DataDir
			}
			if !cmd.Flags().Changed("max-log-capacity") && fileCfg.MaxLogCapacity > 0 {
				maxLogCapacity = fileCfg.MaxLogCapacity
			}
			if !cmd.Flags().Changed("metrics-addr") && fileCfg.MetricsAddr != "" {
				metricsAddr = fileCfg.MetricsAddr
			}
			if !cmd.Flags().Changed("servers") {
				servers = fileCfg.Servers
			}
			logLevel, _ := cmd.Flags().GetString("log-level")
			logJSON, _ := cmd.Flags().GetBool("log-json")
			if !cmd.Flags().Changed("log-level") && fileCfg.LogLevel != "" {
				logLevel = fileCfg.LogLevel
			}
			if !cmd.Flags().Changed("log-json") && fileCfg.LogJSON {
				logJSON = true
			}
			logging.Init(logging.Config{Level: logging.Level(logLevel), JSONOutput: logJSON})
		}

		if addr == "" {
			return fmt.Errorf("--addr is required (directly or via --config)")
		}
		if servers == nil {
			for _, s := range strings.Split(serversCSV, ",") {
				s = strings.TrimSpace(s)
				if s != "" {
					servers = append(servers, s)
				}
			}
		}

		backing, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open data dir: %w", err)
		}
		defer backing.Close()

		logs, err := logstore.Open(backing)
		if err != nil {
			return fmt.Errorf("open log store: %w", err)
		}
		snapshots, err := snapshotstore.Open(backing)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}

		dialer := transport.NewRPCDialer(0)
		config := configsm.New(dialer)
		registry := statemachine.NewRegistry()
		registry.Register(types.ConfigSMID, config)

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()
		logEvents(broker)

		selfID := hashid.Of(addr)
		node := consensus.NewNode(consensus.Options{
			SelfID:         selfID,
			SelfAddress:    addr,
			Logs:           logs,
			Registry:       registry,
			Config:         config,
			Snapshots:      snapshots,
			Events:         broker,
			Dialer:         dialer,
			MaxLogCapacity: maxLogCapacity,
		})
		hb := heartbeat.New(node, node)
		node.AttachHeartbeat(hb)
		registry.Register(types.HeartbeatSMID, hb)

		if entity, ok := snapshots.Load(); ok {
			if err := node.RecoverFrom(entity); err != nil {
				return fmt.Errorf("recover from snapshot: %w", err)
			}
		}

		httpServer, err := transport.ServeNode(addr, node, node)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		logging.Logger.Info().Str("addr", addr).Uint64("id", selfID).Msg("listening")

		if config.Size() == 0 {
			if err := probeAndJoin(node, addr, servers, dialer.Timeout); err != nil {
				return err
			}
		}
		node.Start()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logging.Logger.Error().Err(err).Msg("metrics server exited")
			}
		}()
		logging.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint ready")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logging.Logger.Info().Msg("shutting down")
		node.Shutdown()
		httpServer.Close()
		return nil
	},
}

// logEvents drains broker onto the structured logger in the background for
// as long as the process runs; it never blocks the publishing side.
func logEvents(broker *events.Broker) {
	sub := broker.Subscribe()
	go func() {
		for event := range sub {
			logging.Logger.Info().Str("event", string(event.Type)).Msg(event.Message)
		}
	}()
}

// probeAndJoin implements the bootstrap-or-join decision for a node that
// starts with an empty Config SM: if no address in servers answers, this
// node bootstraps a brand-new single-member cluster; otherwise it joins
// through whichever server answers, following redirects to the leader.
func probeAndJoin(node *consensus.Node, self string, servers []string, timeout time.Duration) error {
	if !raftclient.ProbeServers(servers, self, timeout) {
		node.Bootstrap()
		return nil
	}

	client, err := raftclient.New(servers, timeout)
	if err != nil {
		return fmt.Errorf("probe cluster: %w", err)
	}
	defer client.Close()

	data, err := json.Marshal(struct {
		Address string `json:"address"`
	}{Address: self})
	if err != nil {
		return err
	}

	requestID := uuid.New().String()
	logging.Logger.Info().Str("request_id", requestID).Str("self", self).Msg("submitting join request")
	if _, _, _, err := client.Execute(types.ConfigSMID, configsm.FnNewMember, data); err != nil {
		return fmt.Errorf("join cluster: %w", err)
	}

	info, err := client.ClusterInfo()
	if err != nil {
		return fmt.Errorf("fetch cluster info after join: %w", err)
	}
	members := make([]configsm.Member, len(info.Members))
	for i, m := range info.Members {
		members[i] = configsm.Member{ID: m.ID, Address: m.Address}
	}
	node.JoinAsFollower(members, client.LeaderID())
	return nil
}

func init() {
	serveCmd.Flags().String("addr", "", "This node's own address, e.g. 127.0.0.1:2001 (required)")
	serveCmd.Flags().String("data-dir", "./raftd-data", "Directory for the node's BoltDB file")
	serveCmd.Flags().String("servers", "", "Comma-separated addresses to probe for an existing cluster")
	serveCmd.Flags().Int("max-log-capacity", consensus.DefaultMaxLogCapacity, "Entries retained before a trim-and-snapshot pass")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus /metrics endpoint")
	serveCmd.Flags().String("config", "", "Optional YAML config file; unset flags fall back to its values")
}
