// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"waitroom/identity"
	"waitroom/presence"
	"waitroom/relay"
)

var opts struct {
	Port        int
	IdentityURL string
	RedisURL    string
	RedisToken  string
}

func main() {
	app := &cli.App{
		Name:  "waitroom",
		Usage: "waiting-room presence relay server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "port",
				Usage:       "http service port",
				Value:       8193,
				EnvVars:     []string{"PORT"},
				Destination: &opts.Port,
			},
			&cli.StringFlag{
				Name:        "identity-url",
				Usage:       "base url of the identity service that validates sessions",
				Required:    true,
				EnvVars:     []string{"IDENTITY_URL"},
				Destination: &opts.IdentityURL,
			},
			&cli.StringFlag{
				Name:        "redis-url",
				Usage:       "shared presence cache url; empty runs an in-process cache",
				EnvVars:     []string{"REDIS_URL"},
				Destination: &opts.RedisURL,
			},
			&cli.StringFlag{
				Name:        "redis-token",
				Usage:       "access token for the presence cache, overrides the url password",
				EnvVars:     []string{"REDIS_TOKEN"},
				Destination: &opts.RedisToken,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "waitroom").
		Logger()

	var cache presence.Cache
	if opts.RedisURL != "" {
		redisCache, err := presence.NewRedisCache(opts.RedisURL, opts.RedisToken)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		// Fine for one instance; rosters won't converge across several.
		logger.Warn().Msg("no redis url configured, using in-process presence cache")
		cache = presence.NewMemoryCache()
	}

	hub := relay.NewHub(relay.Config{
		Presence: presence.NewStore(cache, logger),
		Identity: identity.NewClient(opts.IdentityURL, logger),
		Log:      logger,
	})
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/", hub.ServeStatus)
	mux.HandleFunc(relay.PathPrefix, hub.ServeSocket)

	logger.Info().Int("port", opts.Port).Msg("waiting room relay started")
	return http.ListenAndServe(fmt.Sprint(":", opts.Port), mux)
}
