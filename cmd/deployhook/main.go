package main

import (
	"flag"
	"fmt"

	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"

	"modelgate/internal/build"
	"modelgate/internal/lifecycle"
)

// deployhook runs the artifact-build-time hook against a build config. It is
// invoked once while packaging a deployable artifact, never while serving.
func main() {
	file := flag.String("f", "modelfile.yaml", "Build config file")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("Failed init logger")
	}
	log := logger.Sugar()

	cfg, err := build.Load(*file)
	if err != nil {
		panic(fmt.Sprintf("failed loading build config: %s", err))
	}
	log.Infow("running deployment hook",
		"service", cfg.Service,
		"include", cfg.Include,
		"labels", cfg.Labels,
	)

	if err := lifecycle.RunDeployment(log); err != nil {
		panic(fmt.Sprintf("deployment hook failed: %s", err))
	}
	log.Info("deployment hook complete")
}
