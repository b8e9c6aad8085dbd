package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"xiaole-web/pkg/config"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "xiaole",
		Usage:   "小乐 AI 管家聊天客户端与本地开发后端",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"XIAOLE_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			return config.Init(c.String("config"))
		},
		Commands: []*cli.Command{
			ChatCommand(),
			ServeCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
