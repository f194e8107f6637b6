package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"jobchat/backend/internal/auth"
	"jobchat/backend/internal/config"
	"jobchat/backend/internal/logging"
	"jobchat/backend/internal/models"
	"jobchat/backend/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:     "jobchat-admin",
		Usage:    "Operator tasks for the job chat service",
		Metadata: map[string]interface{}{},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg)
			c.App.Metadata["config"] = cfg
			return nil
		},
		Commands: []*cli.Command{
			issueTokenCommand(),
			showSessionCommand(),
			purgeSessionCommand(),
			migrateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("admin command failed")
	}
}

func loadedConfig(c *cli.Context) config.Config {
	return c.App.Metadata["config"].(config.Config)
}

func openStorage(c *cli.Context) (*storage.Service, error) {
	db, err := storage.OpenPostgres(loadedConfig(c).DB)
	if err != nil {
		return nil, err
	}
	return storage.NewStorageService(db), nil
}

func issueTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue-token",
		Usage: "Issue a bearer token for a participant",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "participant", Aliases: []string{"p"}, Usage: "Participant id", Required: true},
			&cli.StringFlag{Name: "role", Aliases: []string{"r"}, Usage: "employer or candidate", Required: true},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: config.DefaultTokenTTL},
		},
		Action: func(c *cli.Context) error {
			tokens := auth.NewTokens(loadedConfig(c).JWT)
			raw, err := tokens.Issue(auth.Identity{
				ParticipantID: c.String("participant"),
				Role:          models.Role(c.String("role")),
			}, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(raw)
			return nil
		},
	}
}

func showSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "show-session",
		Usage:     "Print a session and its messages",
		ArgsUsage: "<session_id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("Usage: jobchat-admin show-session <session_id>", 2)
			}
			s, err := openStorage(c)
			if err != nil {
				return err
			}

			sess, err := s.GetSession(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			msgs, err := s.ListMessages(c.Context, sess.ID, 0)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(struct {
				Session  *models.Session  `json:"session"`
				Messages []models.Message `json:"messages"`
			}{sess, msgs}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func purgeSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "purge-session",
		Usage:     "Delete a session and all of its messages",
		ArgsUsage: "<session_id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("Usage: jobchat-admin purge-session <session_id>", 2)
			}
			s, err := openStorage(c)
			if err != nil {
				return err
			}

			id := c.Args().First()
			if err := s.DeleteSession(c.Context, id); err != nil {
				return err
			}
			log.Info().Str("session_id", id).Msg("session purged by operator")
			fmt.Printf("Session %s has been purged.\n", id)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the chat tables",
		Action: func(c *cli.Context) error {
			db, err := storage.OpenPostgres(loadedConfig(c).DB)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := storage.Migrate(db); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Dur("took", time.Since(start)).Msg("migrations complete")
			return nil
		},
	}
}
