// cmd/server is the main entrypoint for a KV store node.
//
// Configuration is via flags, optionally layered on top of a YAML config
// file so a deployment can check one into its repo instead of assembling
// one giant flag line.
//
// Example — standalone node:
//
//	./server --node-id 0 --host 127.0.0.1 --port 9999 --data-dir /tmp/kv0
//
// Example — 3-node primary/secondary cluster, node 0 (starts primary):
//
//	./server --config node0.yaml
//
// where node0.yaml sets topology: primary-secondary and lists the other two
// nodes' client/replication addresses under peers.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"kvstore/internal/cluster"
	"kvstore/internal/config"
	"kvstore/internal/index"
	"kvstore/internal/logging"
	"kvstore/internal/metrics"
	"kvstore/internal/protocol"
	"kvstore/internal/role"
	"kvstore/internal/store"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	configPath := pflag.String("config", "", "path to a YAML config file; flags below override it")
	nodeID := pflag.Int("node-id", 0, "unique node id; node 0 starts as primary in cluster topologies")
	host := pflag.String("host", "127.0.0.1", "listen host")
	port := pflag.Int("port", 9999, "client (kv) port")
	adminAddr := pflag.String("admin-addr", "127.0.0.1:9998", "admin HTTP address (metrics)")
	dataDir := pflag.String("data-dir", "/tmp/kvstore", "directory for WAL and snapshot")
	topology := pflag.String("topology", "standalone", "standalone | primary-secondary | masterless")
	replicationAddr := pflag.String("replication-addr", "", "this node's replication listen address (cluster topologies only)")
	debugFailChance := pflag.Float64("debug-fail-chance", 0, "probability [0,1] that a debug_simulate_fail write skips its snapshot")
	enableIndexes := pflag.Bool("enable-indexes", false, "enable full-text and similarity indexes")
	similarityDim := pflag.Int("similarity-dim", index.DefaultDimension, "hash-projection dimension for similarity search")
	snapshotInterval := pflag.Int("snapshot-interval", 60, "seconds between background snapshots")
	pflag.Parse()

	cfg := config.Config{
		NodeID:           *nodeID,
		Host:             *host,
		Port:             *port,
		AdminAddr:        *adminAddr,
		DataDir:          *dataDir,
		Topology:         config.Topology(*topology),
		ReplicationAddr:  *replicationAddr,
		DebugFailChance:  *debugFailChance,
		EnableIndexes:    *enableIndexes,
		SimilarityDim:    *similarityDim,
		SnapshotInterval: *snapshotInterval,
	}
	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = mergeConfig(fileCfg, cfg, pflag.CommandLine)
	}

	log := logging.New(cfg.NodeID, "server")
	run(cfg, log)
}

// mergeConfig layers flag-set values over file-set ones: any flag the user
// explicitly passed on the command line wins over the config file, and
// anything left at its flag default falls back to the file's value.
func mergeConfig(file, flags config.Config, fs *pflag.FlagSet) config.Config {
	out := file
	if fs.Changed("node-id") {
		out.NodeID = flags.NodeID
	}
	if fs.Changed("host") {
		out.Host = flags.Host
	}
	if fs.Changed("port") {
		out.Port = flags.Port
	}
	if fs.Changed("admin-addr") {
		out.AdminAddr = flags.AdminAddr
	}
	if fs.Changed("data-dir") {
		out.DataDir = flags.DataDir
	}
	if fs.Changed("topology") {
		out.Topology = flags.Topology
	}
	if fs.Changed("replication-addr") {
		out.ReplicationAddr = flags.ReplicationAddr
	}
	if fs.Changed("debug-fail-chance") {
		out.DebugFailChance = flags.DebugFailChance
	}
	if fs.Changed("enable-indexes") {
		out.EnableIndexes = flags.EnableIndexes
	}
	if fs.Changed("similarity-dim") {
		out.SimilarityDim = flags.SimilarityDim
	}
	if fs.Changed("snapshot-interval") {
		out.SnapshotInterval = flags.SnapshotInterval
	}
	return out
}

func run(cfg config.Config, log zerolog.Logger) {
	m := metrics.New()

	// ── Storage ────────────────────────────────────────────────────────────
	opts := store.Options{
		DataDir:         cfg.DataDir,
		DebugFailChance: cfg.DebugFailChance,
		Metrics:         m,
	}
	if cfg.EnableIndexes {
		opts.FullText = index.NewFullText()
		opts.Similarity = index.NewSimilarity(cfg.SimilarityDim)
	}
	engine, err := store.Open(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("open engine")
	}
	defer engine.Close()

	// ── Role + replication wiring ────────────────────────────────────────────
	var outbound *cluster.Outbound
	var inbound *cluster.Inbound
	var election *cluster.Election
	var server *protocol.Server

	roleMgr := role.New(cfg.NodeID, role.Callbacks{
		OnPromote: func() {
			log.Info().Msg("promoted to primary")
			if inbound != nil {
				inbound.Stop()
			}
			replAddrs := config.PeerReplicationAddrs(cfg.Peers)
			outbound = cluster.NewOutbound(replAddrs)
			if server != nil {
				server.SetOutbound(outbound)
			}
		},
	})

	server = protocol.NewServer(engine, roleMgr, nil, m)

	switch cfg.Topology {
	case config.PrimarySecondary:
		if roleMgr.IsPrimary() {
			replAddrs := config.PeerReplicationAddrs(cfg.Peers)
			outbound = cluster.NewOutbound(replAddrs)
			server.SetOutbound(outbound)
		} else {
			inbound, err = cluster.ListenInbound(cfg.ReplicationAddr, engine, cluster.ApplyNoWAL)
			if err != nil {
				log.Fatal().Err(err).Msg("listen inbound replication")
			}
			election = cluster.NewElection(roleMgr, config.PeerClientAddrs(cfg.Peers), m)
			election.Start()
		}
	case config.Masterless:
		replAddrs := config.PeerReplicationAddrs(cfg.Peers)
		outbound = cluster.NewOutbound(replAddrs)
		server.SetOutbound(outbound)
		inbound, err = cluster.ListenInbound(cfg.ReplicationAddr, engine, cluster.ApplyWithWAL)
		if err != nil {
			log.Fatal().Err(err).Msg("listen inbound replication")
		}
	}

	// ── Client (KV) listener ──────────────────────────────────────────────
	ln, err := net.Listen("tcp", cfg.ClientAddr())
	if err != nil {
		log.Fatal().Err(err).Msg("listen client port")
	}
	go func() {
		log.Info().Str("addr", cfg.ClientAddr()).Str("topology", string(cfg.Topology)).Msg("serving")
		if err := server.Serve(ln); err != nil {
			log.Error().Err(err).Msg("client listener closed")
		}
	}()

	// ── Admin HTTP (metrics) ──────────────────────────────────────────────
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", m.Handler())
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: adminMux}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin server error")
		}
	}()

	// ── Background snapshot ticker ────────────────────────────────────────
	stopSnapshot := make(chan struct{})
	go func() {
		interval := time.Duration(cfg.SnapshotInterval) * time.Second
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopSnapshot:
				return
			case <-ticker.C:
				if err := engine.Snapshot(); err != nil {
					log.Warn().Err(err).Msg("periodic snapshot failed")
				}
			}
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	close(stopSnapshot)
	ln.Close()
	if inbound != nil {
		inbound.Stop()
	}
	if outbound != nil {
		outbound.Close()
	}
	if election != nil {
		election.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("admin server shutdown")
	}

	if err := engine.Snapshot(); err != nil {
		log.Warn().Err(err).Msg("final snapshot failed")
	}
}
