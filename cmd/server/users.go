package main

import (
	"context"
	"fmt"
	"strings"

	"facewatch/config"
	"facewatch/internal/api/middleware"
	"facewatch/internal/core/models"
	"facewatch/internal/db"
	"facewatch/internal/db/repository"
	"facewatch/internal/security"

	"github.com/spf13/cobra"
)

var (
	newUserEmail    string
	newUserPassword string
	newUserRole     string
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a user account for the web interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !middleware.ValidRole(newUserRole) {
			return fmt.Errorf("invalid role %q (admin, operator, viewer)", newUserRole)
		}
		repo, err := openRepository()
		if err != nil {
			return err
		}
		if err := createUser(cmd.Context(), repo, newUserEmail, newUserPassword, newUserRole); err != nil {
			return err
		}
		fmt.Printf("Created %s account %s\n", newUserRole, strings.ToLower(newUserEmail))
		return nil
	},
}

var genKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "Print a new random key for security.embedding_key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := security.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&newUserEmail, "email", "", "login email")
	createUserCmd.Flags().StringVar(&newUserPassword, "password", "", "password (at least 8 characters)")
	createUserCmd.Flags().StringVar(&newUserRole, "role", models.RoleViewer, "admin, operator or viewer")
	_ = createUserCmd.MarkFlagRequired("email")
	_ = createUserCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(createUserCmd, genKeyCmd)
}

func openRepository() (repository.Repository, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	conn, err := db.Initialize(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return repository.NewGormRepository(conn), nil
}

func createUser(ctx context.Context, repo repository.Repository, email, password, role string) error {
	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	return repo.CreateUser(ctx, &models.User{
		Email:          strings.ToLower(strings.TrimSpace(email)),
		HashedPassword: hash,
		Role:           role,
	})
}
