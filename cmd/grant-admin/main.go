package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// grant-admin replaces an admin's permission set. Without -permissions it
// grants every known code, which also picks up codes added after the admin
// was created.
func main() {
	email := flag.String("email", "", "Admin email")
	perms := flag.String("permissions", "", "Comma-separated permission codes (default: all)")
	flag.Parse()

	if *email == "" {
		fmt.Println("Usage: grant-admin -email admin@example.com [-permissions exams:read,exams:monitor]")
		fmt.Printf("Known permissions: %s\n", strings.Join(model.PermissionCodes(), ", "))
		return
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	adminService := service.NewAdminService(repository.NewAdminRepository(pool))

	codes := model.PermissionCodes()
	if *perms != "" {
		codes = codes[:0:0]
		for _, p := range strings.Split(*perms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				codes = append(codes, p)
			}
		}
	}

	if err := adminService.GrantPermissions(ctx, *email, codes); err != nil {
		log.Fatal().Err(err).Str("email", *email).Msg("Failed to grant permissions")
	}

	fmt.Printf("Success! %s now holds: %s\n", *email, strings.Join(codes, ", "))
}
