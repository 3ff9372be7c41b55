package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/ValentinKolb/kvcore/rpc/client"
	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/ValentinKolb/kvcore/rpc/serializer"
	"github.com/ValentinKolb/kvcore/rpc/transport"
	"github.com/ValentinKolb/kvcore/rpc/transport/tcp"
	"github.com/ValentinKolb/kvcore/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (KVCORE_TIMEOUT, ...)
	EnvPrefix = "kvcore"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read matching environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// SetupClientFlags adds the connection and keyspace flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	defaults := common.DefaultClientConfig()

	key := "endpoints"
	cmd.PersistentFlags().String(key, "localhost:11210,localhost:11211,localhost:11212", WrapString("Comma-separated list of the node endpoints, in the same order the server was started with"))

	key = "bucket"
	cmd.PersistentFlags().String(key, defaults.Bucket, WrapString("The bucket served by the cluster"))

	key = "scope"
	cmd.PersistentFlags().String(key, "", WrapString("The scope of the collection (empty = _default)"))

	key = "collection"
	cmd.PersistentFlags().String(key, "", WrapString("The collection (empty = _default)"))

	key = "partitions"
	cmd.PersistentFlags().Int(key, defaults.NumPartitions, WrapString("Number of partitions, must match the cluster"))

	key = "replicas"
	cmd.PersistentFlags().Int(key, defaults.NumReplicas, WrapString("Number of replicas per partition, must match the cluster"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, defaults.Timeout, WrapString("The default timeout of a request, including all retries"))

	key = "max-attempts"
	cmd.PersistentFlags().Int(key, defaults.Retry.MaxAttempts, WrapString("How many attempts a request gets at most (0 = bounded by the timeout only)"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, defaults.Transport.ConnectionsPerEndpoint, WrapString("Simultaneous connections per endpoint"))

	key = "poll-interval"
	cmd.PersistentFlags().Duration(key, defaults.Durability.PollInterval, WrapString("How often the durability of a mutation is observed"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	conf := common.DefaultClientConfig(SplitList(viper.GetString("endpoints"))...)
	conf.Bucket = viper.GetString("bucket")
	conf.NumPartitions = viper.GetInt("partitions")
	conf.NumReplicas = viper.GetInt("replicas")
	conf.Timeout = viper.GetDuration("timeout")
	conf.Retry.MaxAttempts = viper.GetInt("max-attempts")
	conf.Transport.ConnectionsPerEndpoint = viper.GetInt("conn-per-endpoint")
	conf.Transport.TCPNoDelay = viper.GetBool("tcp-nodelay")
	conf.Durability.PollInterval = viper.GetDuration("poll-interval")
	return conf
}

// NewCore creates a client core from the flags of the command
func NewCore() (*client.Core, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := GetClientTransport()
	if err != nil {
		return nil, err
	}
	core, err := client.NewCore(GetClientConfig(), t, s)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return core, nil
}

// GetCollection returns the collection selected by the scope and collection flags
func GetCollection(core *client.Core) *client.Collection {
	return core.Collection(viper.GetString("scope"), viper.GetString("collection"))
}

// --------------------------------------------------------------------------
// Serializer and transports
// --------------------------------------------------------------------------

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.New(viper.GetString("serializer"))
}

// GetClientTransport creates the client transport based on configuration
func GetClientTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of: tcp, unix)", viper.GetString("transport"))
	}
}

// GetServerTransport returns the factory for the server transports based on configuration
func GetServerTransport() (func(common.ServerTransportConf) transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport, nil
	case "unix":
		return unix.NewUnixServerTransport, nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of: tcp, unix)", viper.GetString("transport"))
	}
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// ParseDurability converts a level name and the client verified counts into a
// requirement. persistTo or replicateTo greater than zero select client
// verified durability and may not be combined with a level.
func ParseDurability(level string, persistTo, replicateTo int) (kv.DurabilityRequirement, error) {
	if persistTo > 0 || replicateTo > 0 {
		if level != "" && level != "none" {
			return kv.DurabilityNone, fmt.Errorf("durability level %s can not be combined with persist-to/replicate-to", level)
		}
		return kv.ClientVerified(persistTo, replicateTo), nil
	}

	switch strings.ToLower(level) {
	case "", "none":
		return kv.DurabilityNone, nil
	case "majority":
		return kv.DurabilityMajority, nil
	case "majorityandpersisttoactive", "majority-and-persist-to-active":
		return kv.DurabilityMajorityAndPersistToActive, nil
	case "persisttomajority", "persist-to-majority":
		return kv.DurabilityPersistToMajority, nil
	default:
		return kv.DurabilityNone, fmt.Errorf("invalid durability level %s (expected one of: none, majority, majority-and-persist-to-active, persist-to-majority)", level)
	}
}

// ParseExpiry converts a duration into an expiry, zero means no expiry
func ParseExpiry(d time.Duration) kv.Expiry {
	if d <= 0 {
		return kv.Expiry{}
	}
	return kv.ExpiryIn(d)
}

// SplitList splits a comma separated list and drops empty entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
