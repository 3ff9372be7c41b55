package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/kvcore/cmd/util"
	"github.com/ValentinKolb/kvcore/lib/encoding"
	"github.com/ValentinKolb/kvcore/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			res, err := collection.Get(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, cas=%d, format=%s, value=%s\n", args[0], res.Cas, encoding.FormatOf(res.Flags), res.Value)
			return nil
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [key] [value]",
		Short: "Creates a document, fails if it exists",
		Args:  cobra.ExactArgs(2),
		RunE:  storeCommand((*client.Collection).Insert),
	}
	upsertCmd = &cobra.Command{
		Use:   "upsert [key] [value]",
		Short: "Creates or replaces a document",
		Args:  cobra.ExactArgs(2),
		RunE:  storeCommand((*client.Collection).Upsert),
	}
	replaceCmd = &cobra.Command{
		Use:   "replace [key] [value]",
		Short: "Replaces an existing document",
		Args:  cobra.ExactArgs(2),
		RunE:  storeCommand((*client.Collection).Replace),
	}
	removeCmd = &cobra.Command{
		Use:   "remove [key]",
		Short: "Removes a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			res, err := collection.Remove(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			printMutation("remove", res)
			return nil
		},
	}
	appendCmd = &cobra.Command{
		Use:   "append [key] [value]",
		Short: "Appends raw bytes to a document",
		Args:  cobra.ExactArgs(2),
		RunE:  concatCommand("append", (*client.Collection).Append),
	}
	prependCmd = &cobra.Command{
		Use:   "prepend [key] [value]",
		Short: "Prepends raw bytes to a document",
		Args:  cobra.ExactArgs(2),
		RunE:  concatCommand("prepend", (*client.Collection).Prepend),
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key] [delta]",
		Short: "Increments a counter document",
		Args:  cobra.ExactArgs(2),
		RunE:  counterCommand("incr", (*client.Collection).Increment),
	}
	decrCmd = &cobra.Command{
		Use:   "decr [key] [delta]",
		Short: "Decrements a counter document, it stops at zero",
		Args:  cobra.ExactArgs(2),
		RunE:  counterCommand("decr", (*client.Collection).Decrement),
	}
	touchCmd = &cobra.Command{
		Use:   "touch [key]",
		Short: "Updates the expiry of a document to --expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			res, err := collection.Touch(cmd.Context(), args[0], opts.Expiry, opts)
			if err != nil {
				return err
			}
			printMutation("touch", res)
			return nil
		},
	}
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Sends a noop to every node and prints the round trip time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var failed int
			for _, node := range core.Config().Transport.Endpoints {
				rtt, err := core.Ping(cmd.Context(), node)
				if err != nil {
					failed++
					fmt.Printf("node=%s, error=%v\n", node, err)
					continue
				}
				fmt.Printf("node=%s, rtt=%s\n", node, rtt)
			}
			if failed > 0 {
				return fmt.Errorf("%d node(s) did not answer", failed)
			}
			return nil
		},
	}
)

func init() {
	key := "initial"
	incrCmd.Flags().String(key, "", util.WrapString("Create the counter with this value if it does not exist"))
	decrCmd.Flags().String(key, "", util.WrapString("Create the counter with this value if it does not exist"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// The command variables are created before the collection exists, so the
// operations are passed as method expressions on *client.Collection.
type (
	storeFunc   func(*client.Collection, context.Context, string, interface{}, *client.Options) (*client.MutationResult, error)
	concatFunc  func(*client.Collection, context.Context, string, []byte, *client.Options) (*client.MutationResult, error)
	counterFunc func(*client.Collection, context.Context, string, uint64, *uint64, *client.Options) (*client.CounterResult, error)
)

// options builds the request options from the flags
func options() (*client.Options, error) {
	durability, err := util.ParseDurability(
		viper.GetString("durability"),
		viper.GetInt("persist-to"),
		viper.GetInt("replicate-to"),
	)
	if err != nil {
		return nil, err
	}
	hint, err := encoding.ParseContentHint(viper.GetString("format"))
	if err != nil {
		return nil, err
	}
	return &client.Options{
		Cas:        viper.GetUint64("cas"),
		Expiry:     util.ParseExpiry(viper.GetDuration("expiry")),
		Durability: durability,
		Hint:       hint,
	}, nil
}

// parseValue converts the value argument, json values are decoded first so
// that the transcoder stores them as structured content
func parseValue(value string, hint encoding.ContentHint) interface{} {
	if hint == encoding.HintJSON {
		var v interface{}
		if err := json.Unmarshal([]byte(value), &v); err == nil {
			return v
		}
	}
	return value
}

func storeCommand(op storeFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		opts, err := options()
		if err != nil {
			return err
		}
		res, err := op(collection, cmd.Context(), args[0], parseValue(args[1], opts.Hint), opts)
		if err != nil {
			return err
		}
		printMutation(cmd.Name(), res)
		return nil
	}
}

func concatCommand(name string, op concatFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		opts, err := options()
		if err != nil {
			return err
		}
		res, err := op(collection, cmd.Context(), args[0], []byte(args[1]), opts)
		if err != nil {
			return err
		}
		printMutation(name, res)
		return nil
	}
}

func counterCommand(name string, op counterFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		opts, err := options()
		if err != nil {
			return err
		}
		delta, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("delta must be a number: %w", err)
		}
		var initial *uint64
		if s, _ := cmd.Flags().GetString("initial"); s != "" {
			v, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return fmt.Errorf("initial must be a number: %w", err)
			}
			initial = &v
		}
		res, err := op(collection, cmd.Context(), args[0], delta, initial, opts)
		if err != nil {
			return err
		}
		fmt.Printf("%s successfully, value=%d, cas=%d, token=%s\n", name, res.Value, res.Cas, tokenString(&res.MutationResult))
		return nil
	}
}

func printMutation(name string, res *client.MutationResult) {
	fmt.Printf("%s successfully, cas=%d, token=%s\n", name, res.Cas, tokenString(res))
}

func tokenString(res *client.MutationResult) string {
	if res.Token == nil {
		return "-"
	}
	return res.Token.String()
}
