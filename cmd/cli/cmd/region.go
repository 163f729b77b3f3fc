package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sfs-coordinator/internal/coordinator"
	"github.com/sfs-coordinator/internal/region"
)

var (
	// Region command flags
	regionKey  int
	regionSize int
	statusJSON bool
)

// initCmd creates and zeroes the coordination region.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialise the coordination region",
	Long: `Create the shared region for the configured key (if needed) and reset
it to an empty graph. Must run exactly once across the cooperating set,
before any participant declares.`,
	RunE: runInit,
}

// destroyCmd tears the region down.
var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy the coordination region",
	Long: `Close any file handles crashed participants left granted, then unlink
the region so its key becomes invalid. Run once, after all participants
have left.`,
	RunE: runDestroy,
}

// statusCmd prints a snapshot of the region.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the coordination region's current graph",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(statusCmd)

	for _, c := range []*cobra.Command{initCmd, destroyCmd, statusCmd} {
		c.Flags().IntVarP(&regionKey, "key", "k", 0, "Region key (defaults to config)")
	}
	initCmd.Flags().IntVar(&regionSize, "size", 0, "Region size in bytes (defaults to config)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the snapshot as JSON")
}

// newCLICoordinator builds a coordinator from the loaded configuration.
func newCLICoordinator() (*coordinator.Coordinator, error) {
	conf := GetConfig()

	provider, err := region.NewProvider(conf.Region.Provider)
	if err != nil {
		return nil, err
	}
	lockFactory, err := coordinator.LockFactoryFor(conf.IPC.Locker)
	if err != nil {
		return nil, err
	}

	size := conf.Region.Size
	if regionSize > 0 {
		size = regionSize
	}

	return coordinator.New(
		coordinator.WithProvider(provider),
		coordinator.WithLockFactory(lockFactory),
		coordinator.WithRegionSize(size),
		coordinator.WithLogger(GetLogger()),
	), nil
}

func effectiveKey() int {
	if regionKey > 0 {
		return regionKey
	}
	return GetConfig().Region.Key
}

func runInit(cmd *cobra.Command, args []string) error {
	coord, err := newCLICoordinator()
	if err != nil {
		return err
	}

	key := effectiveKey()
	if err := coord.Init(key); err != nil {
		return fmt.Errorf("failed to initialise region %d: %w", key, err)
	}

	GetLogger().Info("region %d ready", key)
	return nil
}

func runDestroy(cmd *cobra.Command, args []string) error {
	coord, err := newCLICoordinator()
	if err != nil {
		return err
	}

	key := effectiveKey()
	if err := coord.Destroy(key); err != nil {
		return fmt.Errorf("failed to destroy region %d: %w", key, err)
	}

	GetLogger().Info("region %d destroyed", key)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	coord, err := newCLICoordinator()
	if err != nil {
		return err
	}

	key := effectiveKey()
	snap, err := coord.Snapshot(key)
	if err != nil {
		return fmt.Errorf("failed to snapshot region %d: %w", key, err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Printf("Region %d  (taken %s)\n", key, snap.TakenAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Arena: %d/%d slots live, %d recycled\n\n",
		snap.Arena.Live, snap.Arena.Capacity, snap.Arena.FreeList)

	if len(snap.Processes) == 0 {
		fmt.Println("No participants.")
	}
	for _, p := range snap.Processes {
		fmt.Printf("pid %d\n", p.Pid)
		for _, name := range p.Holds {
			fmt.Printf("  holds  %s\n", name)
		}
		for _, name := range p.Claims {
			fmt.Printf("  claims %s\n", name)
		}
	}

	if len(snap.Resources) > 0 {
		fmt.Println()
		for _, r := range snap.Resources {
			state := "idle"
			if r.Granted {
				state = fmt.Sprintf("granted to %d (handle %d)", r.HolderPid, r.Handle)
			}
			fmt.Printf("file %-40s %s\n", r.Name, state)
		}
	}

	return nil
}
