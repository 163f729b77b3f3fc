// Command demo exercises the coordination service across real OS processes.
//
// The parent initialises a /dev/shm region, then re-executes itself once per
// participant with -worker. Every worker declares the same five files in a
// different order, opens them one at a time through the avoidance engine,
// holds each briefly, closes them and leaves. The parent waits for all
// workers, prints the final snapshot and destroys the region.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sfs-coordinator/internal/coordinator"
	"github.com/sfs-coordinator/pkg/utils"
)

var (
	regionKey = flag.Int("key", 8777, "Region key shared by all participants")
	workers   = flag.Int("n", 3, "Number of worker processes to spawn")
	holdFor   = flag.Duration("hold", 100*time.Millisecond, "How long each file is held")
	dataDir   = flag.String("dir", "", "Directory for the demo files (default: temp dir)")
	verbose   = flag.Bool("v", false, "Verbose output")

	// Worker mode flags, set by the parent when re-executing itself.
	workerMode  = flag.Bool("worker", false, "Run as a worker participant (internal)")
	workerFiles = flag.String("files", "", "Comma-separated file list for worker mode (internal)")
)

// Conflicting acquisition orders over the same five files; the classic
// deadlock shape for plain blocking opens.
var fileOrders = [][]string{
	{"f1.txt", "f2.txt", "f3.txt", "f4.txt", "f5.txt"},
	{"f5.txt", "f4.txt", "f3.txt", "f2.txt", "f1.txt"},
	{"f4.txt", "f2.txt", "f3.txt", "f1.txt", "f5.txt"},
}

func main() {
	flag.Parse()

	level := utils.LevelInfo
	if *verbose {
		level = utils.LevelDebug
	}
	logger := utils.NewDefaultLogger(level, os.Stdout)

	if *workerMode {
		if err := runWorker(logger); err != nil {
			logger.Error("worker %d failed: %v", os.Getpid(), err)
			os.Exit(1)
		}
		return
	}

	if err := runParent(logger); err != nil {
		logger.Error("demo failed: %v", err)
		os.Exit(1)
	}
}

func runParent(logger utils.Logger) error {
	dir := *dataDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "sfs-demo-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
	}

	// The demo reads real files; create them up front.
	for _, name := range fileOrders[0] {
		if err := os.WriteFile(dir+"/"+name, []byte(name+"\n"), 0644); err != nil {
			return err
		}
	}

	coord := coordinator.New(coordinator.WithLogger(logger))
	if err := coord.Init(*regionKey); err != nil {
		return err
	}
	logger.Info("parent %d: region %d initialised", os.Getpid(), *regionKey)

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < *workers; i++ {
		order := fileOrders[i%len(fileOrders)]
		files := make([]string, len(order))
		for j, name := range order {
			files[j] = dir + "/" + name
		}

		cmd := exec.Command(exe,
			"-worker",
			"-key", fmt.Sprint(*regionKey),
			"-hold", holdFor.String(),
			"-files", strings.Join(files, ","),
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		g.Go(cmd.Run)
	}

	if err := g.Wait(); err != nil {
		// Destroy anyway: crashed workers may have left grants behind.
		_ = coord.Destroy(*regionKey)
		return err
	}

	snap, err := coord.Snapshot(*regionKey)
	if err != nil {
		return err
	}
	logger.Info("parent %d: all workers done in %s; %d processes, %d resources, %d live slots remain",
		os.Getpid(), time.Since(start).Round(time.Millisecond),
		len(snap.Processes), len(snap.Resources), snap.Arena.Live)

	return coord.Destroy(*regionKey)
}

func runWorker(logger utils.Logger) error {
	files := strings.Split(*workerFiles, ",")
	if len(files) == 0 || files[0] == "" {
		return fmt.Errorf("worker started without -files")
	}

	pid := os.Getpid()
	coord := coordinator.New(coordinator.WithLogger(logger))

	logger.Info("worker %d: declaring %d files", pid, len(files))
	if err := coord.Declare(*regionKey, files); err != nil {
		return err
	}

	ctx := context.Background()
	handles := make([]coordinator.Handle, 0, len(files))
	for _, path := range files {
		logger.Info("worker %d: opening %s", pid, path)
		h, err := coord.Acquire(ctx, path, "r")
		if err != nil {
			return err
		}
		logger.Info("worker %d: opened %s", pid, path)
		handles = append(handles, h)
		time.Sleep(*holdFor)
	}

	for i, h := range handles {
		if err := coord.Release(h); err != nil {
			return err
		}
		logger.Info("worker %d: closed %s", pid, files[i])
	}

	blocked := coord.Stats().Blocks
	if err := coord.Leave(*regionKey); err != nil {
		return err
	}
	logger.Info("worker %d: left (blocked %d times)", pid, blocked)
	return nil
}
