package kv

import (
	"github.com/ValentinKolb/kvcore/cmd/util"
	"github.com/ValentinKolb/kvcore/rpc/client"
	"github.com/spf13/cobra"
)

var (
	core       *client.Core
	collection *client.Collection

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value operations against a cluster",
		PersistentPreRunE:  setupKVClient,
		PersistentPostRunE: closeKVClient,
	}
)

func init() {
	// Add common client flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Mutation flags
	key := "cas"
	KeyValueCommands.PersistentFlags().Uint64(key, 0, util.WrapString("Only apply the mutation if the document still has this CAS (0 = no check)"))

	key = "expiry"
	KeyValueCommands.PersistentFlags().Duration(key, 0, util.WrapString("Expiry of the document (0 = never expires)"))

	key = "durability"
	KeyValueCommands.PersistentFlags().String(key, "none", util.WrapString("Durability level of mutations (none, majority, majority-and-persist-to-active, persist-to-majority)"))

	key = "persist-to"
	KeyValueCommands.PersistentFlags().Int(key, 0, util.WrapString("Client verified durability: number of nodes (active included) that must have persisted the mutation"))

	key = "replicate-to"
	KeyValueCommands.PersistentFlags().Int(key, 0, util.WrapString("Client verified durability: number of replicas that must hold the mutation"))

	key = "format"
	KeyValueCommands.PersistentFlags().String(key, "auto", util.WrapString("How values are encoded (auto, binary, string, json)"))

	// Add subcommands
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(insertCmd)
	KeyValueCommands.AddCommand(upsertCmd)
	KeyValueCommands.AddCommand(replaceCmd)
	KeyValueCommands.AddCommand(removeCmd)
	KeyValueCommands.AddCommand(appendCmd)
	KeyValueCommands.AddCommand(prependCmd)
	KeyValueCommands.AddCommand(incrCmd)
	KeyValueCommands.AddCommand(decrCmd)
	KeyValueCommands.AddCommand(touchCmd)
	KeyValueCommands.AddCommand(pingCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient connects the client core
func setupKVClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	core, err = util.NewCore()
	if err != nil {
		return err
	}
	collection = util.GetCollection(core)
	return nil
}

func closeKVClient(*cobra.Command, []string) error {
	if core == nil {
		return nil
	}
	return core.Close()
}
