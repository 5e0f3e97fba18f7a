package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/auth"
	"github.com/xiaot623/gogo/testmgmt/internal/authz"
	"github.com/xiaot623/gogo/testmgmt/internal/config"
	"github.com/xiaot623/gogo/testmgmt/internal/logging"
	"github.com/xiaot623/gogo/testmgmt/internal/repository"
	"github.com/xiaot623/gogo/testmgmt/internal/service"
)

func createAdminCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-admin",
		Usage: "Create an admin account unless the username is taken",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Value: "admin"},
			&cli.StringFlag{Name: "email", Value: "admin@example.com"},
			&cli.StringFlag{Name: "password", EnvVars: []string{"ADMIN_PASSWORD"}, Required: true},
			&cli.StringFlag{Name: "db", Usage: "SQLite database DSN (overrides DATABASE_URL)"},
		},
		Action: createAdmin,
	}
}

func createAdmin(c *cli.Context) error {
	cfg := config.Load()
	if c.IsSet("db") {
		cfg.DatabaseURL = c.String("db")
	}
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	authorizer, err := authz.NewDefaultEngine(c.Context)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	svc := service.New(db, auth.NewManager(cfg.JWTSecret, cfg.TokenTTL), authorizer, nil, logger)

	username := c.String("username")
	created, err := svc.EnsureAdmin(c.Context, username, c.String("email"), c.String("password"))
	if err != nil {
		return err
	}
	if !created {
		logger.Info("user already exists, nothing to do", zap.String("username", username))
		return nil
	}
	logger.Info("admin user created", zap.String("username", username))
	return nil
}
