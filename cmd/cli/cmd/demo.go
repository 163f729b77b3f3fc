package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sfs-coordinator/internal/coordinator"
	"github.com/sfs-coordinator/internal/region"
	"github.com/sfs-coordinator/pkg/parallel"
)

var (
	// Demo command flags
	demoRounds  int
	demoHoldFor time.Duration
)

// Conflicting acquisition orders over the same five files, as hostile a
// pattern as the avoidance algorithm ever sees.
var demoFileSets = [][]string{
	{"f1.txt", "f2.txt", "f3.txt", "f4.txt", "f5.txt"},
	{"f5.txt", "f4.txt", "f3.txt", "f2.txt", "f1.txt"},
	{"f4.txt", "f2.txt", "f3.txt", "f1.txt", "f5.txt"},
}

// demoCmd runs the avoidance protocol against itself in one process.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an in-process contention demo",
	Long: `Run three participants inside this process against a private memory
region. Each declares the same five files and acquires them in a different
order, the pattern that deadlocks plain file locking. The avoidance engine
serialises the conflicting segments and everyone finishes.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().IntVar(&demoRounds, "rounds", 3, "Acquire/release rounds per participant")
	demoCmd.Flags().DurationVar(&demoHoldFor, "hold", 20*time.Millisecond, "How long each file is held")
}

func runDemo(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	key := effectiveKey()

	provider := region.NewMemoryProvider()
	newParticipant := func(pid uint32) *coordinator.Coordinator {
		opts := append(coordinator.LocalSetup(provider),
			coordinator.WithPid(pid),
			coordinator.WithFileOpener(coordinator.NewNullFileOpener()),
			coordinator.WithLogger(log),
		)
		return coordinator.New(opts...)
	}

	admin := newParticipant(1)
	if err := admin.Init(key); err != nil {
		return err
	}

	type work struct {
		pid   uint32
		files []string
	}
	workload := make([]work, len(demoFileSets))
	for i, files := range demoFileSets {
		workload[i] = work{pid: uint32(100 + i), files: files}
	}

	start := time.Now()
	processed, err := parallel.ForEach(cmd.Context(), workload,
		parallel.DefaultPoolConfig().WithWorkers(len(workload)),
		func(ctx context.Context, w work) error {
			p := newParticipant(w.pid)
			if err := p.Declare(key, w.files); err != nil {
				return err
			}

			for round := 0; round < demoRounds; round++ {
				var held []coordinator.Handle
				for _, name := range w.files {
					h, err := p.Acquire(ctx, name, "r")
					if err != nil {
						return fmt.Errorf("pid %d acquire %s: %w", w.pid, name, err)
					}
					held = append(held, h)
					time.Sleep(demoHoldFor)
				}
				for _, h := range held {
					if err := p.Release(h); err != nil {
						return fmt.Errorf("pid %d release: %w", w.pid, err)
					}
				}
			}

			s := p.Stats()
			log.Info("pid %d done: %d grants, %d blocked waits", w.pid, s.Grants, s.Blocks)
			return p.Leave(key)
		})
	if err != nil {
		return err
	}

	log.Info("%d participants finished in %s with zero deadlocks", processed, time.Since(start).Round(time.Millisecond))

	snap, err := admin.Snapshot(key)
	if err != nil {
		return err
	}
	log.Info("final graph: %d processes, %d resources, %d live arena slots",
		len(snap.Processes), len(snap.Resources), snap.Arena.Live)

	return admin.Destroy(key)
}
