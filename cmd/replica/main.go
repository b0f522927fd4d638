// Command replica replicates a change-tracked SQL Server database into a replica.
package main

import (
	_ "embed"
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

const usage = `usage: replica [-env file] [-config file] <command> [args]

commands:
  run              tick on the configured interval until interrupted (default)
  once             run a single tick and exit
  status [n]       print the last n runs (default 10)
  ack <id>         mark a ready run successful
  backtrack <id>   request a replay of a failed run
  reinit <id>      request a full resynchronisation after run <id>
  abandon <id>     mark a run left preparing by a crashed process as failed
  migrate          apply the run-history migrations
`

func main() {
	flags := flag.NewFlagSet("replica", flag.ExitOnError)
	envFile := flags.String("env", envOr("ENV_FILE_PATH", ".env"), "path of the .env file")
	configFile := flags.String("config", "", "YAML file layered over the embedded configuration")
	flags.Usage = func() { fmt.Fprint(flags.Output(), usage) }
	_ = flags.Parse(os.Args[1:])

	command, args := "run", []string(nil)
	if flags.NArg() > 0 {
		command, args = flags.Arg(0), flags.Args()[1:]
	}

	if command == "run" {
		app := fx.New(GetApplicationOptions(*envFile, *configFile, embeddedConfig, true)...)
		app.Run()
		if app.Err() != nil {
			logger.Fatalf("Application run failed: %v", app.Err())
		}
		return
	}

	options := GetApplicationOptions(*envFile, *configFile, embeddedConfig, false)
	var err error
	switch command {
	case "once":
		err = runOneShot(options, cmdOnce)
	case "status":
		err = runOneShot(options, cmdStatus(os.Stdout, args))
	case "ack":
		err = runOneShot(options, cmdTransition(args, []model.LoadStatus{model.StatusReady}, model.StatusSuccessful))
	case "backtrack":
		err = runOneShot(options, cmdTransition(args, []model.LoadStatus{model.StatusFailed}, model.StatusBackTrack))
	case "reinit":
		err = runOneShot(options, cmdTransition(args, []model.LoadStatus{
			model.StatusReady, model.StatusSuccessful, model.StatusFailed, model.StatusBackTrack, model.StatusPreparing,
		}, model.StatusInitialize))
	case "abandon":
		err = runOneShot(options, cmdTransition(args, []model.LoadStatus{model.StatusPreparing}, model.StatusFailed))
	case "migrate":
		err = runOneShot(options, cmdMigrate)
	default:
		flags.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatalf("%s failed: %v", command, err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
