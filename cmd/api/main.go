package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/auth"
)

func main() {
	cliApp := &cli.App{
		Name:  "loyalty-api",
		Usage: "loyalty points ledger, coin conversion and customer segmentation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"LOYALTY_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP API, gRPC health server and job workers",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply River and application migrations",
				Action: migrate,
			},
			{
				Name:   "expire",
				Usage:  "run one points expiration pass now",
				Action: expire,
			},
			{
				Name:  "refresh",
				Usage: "reconcile segment memberships inline",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "segment", Usage: "refresh only this segment id"},
				},
				Action: refresh,
			},
			{
				Name:  "token",
				Usage: "mint a bearer token for an operator or service",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Required: true},
					&cli.StringFlag{Name: "role", Value: auth.RoleService},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: mintToken,
			},
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "loyalty-api:", err)
		os.Exit(1)
	}
}
