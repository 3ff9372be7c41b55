package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/kvcore/cmd/util"
	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/ValentinKolb/kvcore/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a simulated cluster",
		Long: `Start a simulated cluster with one endpoint per node. Every node is the active node for a share of the partitions and a replica for others. Persistence and replication run asynchronously with the configured delays, so durability can be observed like on a real cluster.

The configuration can be set via command line flags or environment variables. The format of the environment variables is KVCORE_<flag> (e.g. KVCORE_PARTITIONS=128)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "nodes"
	ServeCmd.PersistentFlags().String(key, "localhost:11210,localhost:11211,localhost:11212", cmdUtil.WrapString("Comma-separated list of node endpoints, one node is started per endpoint (host:port for tcp, a socket path for unix)"))

	key = "bucket"
	ServeCmd.PersistentFlags().String(key, "default", cmdUtil.WrapString("The bucket served by the cluster"))

	key = "partitions"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Number of partitions the keys are hashed to"))

	key = "replicas"
	ServeCmd.PersistentFlags().Int(key, 1, cmdUtil.WrapString("Number of replicas per partition, must be less than the number of nodes"))

	key = "persist-delay"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("How long a node takes to persist a mutation"))

	key = "replicate-delay"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("How long a mutation takes to reach a replica"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("How many requests of one connection are processed concurrently"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("The size of the read buffers (in KB)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address on which the metrics are exposed in the prometheus format (e.g. localhost:9100, empty = disabled)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	endpoints := cmdUtil.SplitList(viper.GetString("nodes"))
	if len(endpoints) == 0 {
		return fmt.Errorf("at least one node is required")
	}

	serveCmdConfig.Transport = common.ServerTransportConf{
		SocketConf: common.SocketConf{
			TCPNoDelay:   viper.GetBool("tcp-nodelay"),
			TCPLingerSec: -1,
		},
		Endpoints:      endpoints,
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		BufferSize:     viper.GetInt("buffer-size") * 1024,
	}
	serveCmdConfig.Bucket = viper.GetString("bucket")
	serveCmdConfig.NumPartitions = viper.GetInt("partitions")
	serveCmdConfig.NumReplicas = viper.GetInt("replicas")
	serveCmdConfig.PersistDelay = viper.GetDuration("persist-delay")
	serveCmdConfig.ReplicateDelay = viper.GetDuration("replicate-delay")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.NumReplicas >= len(endpoints) {
		return fmt.Errorf("replicas (%d) must be less than the number of nodes (%d)", serveCmdConfig.NumReplicas, len(endpoints))
	}

	return nil
}

// run starts the cluster and blocks until it is interrupted
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	newTransport, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv, err := server.NewRPCServer(*serveCmdConfig, newTransport, s)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		server.Logger.Infof("Shutting down")
		if err := serv.Close(); err != nil {
			server.Logger.Errorf("Shutdown failed: %v", err)
		}
	}()

	return serv.Serve()
}
