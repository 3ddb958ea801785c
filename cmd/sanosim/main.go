// sanosim runs the kernel as an ordinary host process: a handful of demo
// tasks contending over the primitives in package kernel, driven by a real
// wall-clock tick. It exists to exercise the scheduler the way a target
// image's main() would, not as a product in its own right.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bgp59/logrusx"

	"github.com/pdlsurya/sanorts/kernel"
)

var (
	configFileArg = flag.String("config", "sanosim-config.yaml", "Config file to load")
	coresArg      = flag.Int("cores", 0, `Override "kernel_config.num_cores" (0: keep the config value; a config value of 0 autodetects)`)
)

func init() {
	logrusx.EnableLoggerArgs()
}

var log = kernel.NewCompLogger("main")

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	cfg, err := kernel.LoadConfig(*configFileArg, nil)
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}
	if cfg == nil {
		cfg = kernel.DefaultRootConfig()
	}
	if *coresArg > 0 {
		cfg.Kernel.NumCores = *coresArg
	} else if cfg.Kernel.NumCores == 0 {
		cfg.Kernel.NumCores = kernel.DetectAvailableCores()
	}

	logrusx.ApplySetLoggerArgs(cfg.Logger)
	if err := kernel.SetLogger(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up logger: %v\n", err)
		return 1
	}

	port := kernel.NewSimPort()
	k, err := kernel.NewKernel(port, cfg.Kernel, kernel.NewCompLogger("kernel"))
	if err != nil {
		log.WithError(err).Error("failed to build kernel")
		return 1
	}

	if err := buildDemoTasks(k, cfg); err != nil {
		log.WithError(err).Error("failed to build demo tasks")
		return 1
	}

	if _, err := k.AddHostStatsTask(&kernel.TaskConfig{
		Name:     "hoststats",
		Priority: 250,
	}, 1000); err != nil {
		log.WithError(err).Error("failed to add host-stats task")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := k.Start(ctx); err != nil {
			log.WithError(err).Error("kernel start failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Warnf("%s signal received, shutting down", sig)
	cancel()
	k.Shutdown()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Error("shutdown timed out after 5s, force exit")
		return 1
	}
	return 0
}
