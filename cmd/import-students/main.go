package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// import-students loads a roster spreadsheet (nisn, name, password columns)
// the same way the admin upload endpoint does.
func main() {
	path := flag.String("file", "", "Path to the .xlsx roster")
	flag.Parse()
	if *path == "" {
		fmt.Println("Usage: import-students -file roster.xlsx")
		return
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	f, err := os.Open(*path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open roster")
	}
	defer f.Close()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentService := service.NewStudentService(repository.NewStudentRepository(pool), cfg.BcryptCost)

	fmt.Println("=== Importing Students ===")
	report, err := studentService.ImportRoster(ctx, f)
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	rows := make([]string, 0, len(report.Errors))
	for row := range report.Errors {
		rows = append(rows, row)
	}
	sort.Strings(rows)
	for _, row := range rows {
		fmt.Printf("  %s: %s\n", row, report.Errors[row])
	}

	fmt.Printf("\nImport completed! Created %d, skipped %d.\n", report.Created, report.Skipped)
}
