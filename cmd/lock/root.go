package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/kvcore/cmd/util"
	"github.com/ValentinKolb/kvcore/rpc/client"
	"github.com/spf13/cobra"
)

var (
	core     *client.Core
	locker   *client.Locker
	lockTime time.Duration
	wait     time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform pessimistic lock operations on documents",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock on a document",
		Long:  "Lock a document with get-and-lock. The printed CAS is required to release the lock. If the document is locked by someone else the command waits up to --wait for the lock.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [cas]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and the CAS returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	// Add common client flags to the lock command
	util.SetupClientFlags(LockCommands)

	// Add flags specific to acquire
	acquireCmd.Flags().DurationVar(&lockTime, "lock-time", 15*time.Second, util.WrapString("How long the lock is held if it is not released"))
	acquireCmd.Flags().DurationVar(&wait, "wait", 0, util.WrapString("How long to wait for a lock held by someone else (0 = do not wait)"))
}

// setupLockClient connects the client core
func setupLockClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	core, err = util.NewCore()
	if err != nil {
		return err
	}
	locker = client.NewLocker(util.GetCollection(core))
	return nil
}

func closeLockClient(*cobra.Command, []string) error {
	if core == nil {
		return nil
	}
	return core.Close()
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	key := args[0]

	var (
		lock     *client.Lock
		acquired bool
		err      error
	)
	if wait > 0 {
		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()
		lock, err = locker.Acquire(ctx, key, lockTime)
		acquired = err == nil
	} else {
		lock, acquired, err = locker.TryAcquire(cmd.Context(), key, lockTime)
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	if !acquired {
		fmt.Printf("acquired=false\n")
		return nil
	}

	fmt.Printf("acquired=true, cas=%d, until=%s\n", lock.Cas, lock.Until.Format(time.RFC3339))
	return nil
}

// runRelease handles the release lock command
func runRelease(cmd *cobra.Command, args []string) error {
	key := args[0]

	cas, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid cas format: %v", err)
	}

	released, err := locker.Release(cmd.Context(), &client.Lock{ID: key, Cas: cas})
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}
