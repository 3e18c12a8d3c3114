package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
	"github.com/yourusername/campus-portal-api/internal/config"
	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
	pgRepo "github.com/yourusername/campus-portal-api/internal/repository/postgres"
	"github.com/yourusername/campus-portal-api/pkg/database"
)

// Утилита начального наполнения whitelist из xlsx-файла.
// Формат листа: email | role | campus_id | full_name | department,
// первая строка — заголовки. Дубликаты пропускаются.
func main() {
	filePath := flag.String("file", "", "путь к xlsx-файлу со списком допуска")
	flag.Parse()

	if *filePath == "" {
		log.Fatal("укажите -file: путь к xlsx-файлу")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	repo := pgRepo.NewWhitelistRepo(db)

	f, err := excelize.OpenFile(*filePath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *filePath, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		log.Fatal("Workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		log.Fatalf("Failed to read sheet %s: %v", sheets[0], err)
	}

	imported, skipped := 0, 0
	for i, row := range rows {
		if i == 0 {
			continue
		}
		rowNum := i + 1

		cell := func(idx int) string {
			if idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}

		entry := &entity.WhitelistEntry{
			Email:      entity.NormalizeEmail(cell(0)),
			Role:       cell(1),
			CampusID:   cell(2),
			FullName:   cell(3),
			Department: cell(4),
		}

		if entry.Email == "" && entry.Role == "" && entry.CampusID == "" {
			continue
		}
		if entry.Email == "" || !strings.Contains(entry.Email, "@") {
			log.Printf("строка %d: некорректный email, пропущена", rowNum)
			skipped++
			continue
		}
		if !entity.ValidRole(entry.Role) {
			log.Printf("строка %d: неизвестная роль %q, пропущена", rowNum, entry.Role)
			skipped++
			continue
		}
		if entry.CampusID == "" || entry.FullName == "" {
			log.Printf("строка %d: campus_id и full_name обязательны, пропущена", rowNum)
			skipped++
			continue
		}

		if err := repo.Create(entry); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				log.Printf("строка %d: %s уже в whitelist, пропущена", rowNum, entry.Email)
				skipped++
				continue
			}
			log.Fatalf("строка %d: ошибка записи: %v", rowNum, err)
		}
		imported++
	}

	fmt.Printf("Done: imported %d, skipped %d\n", imported, skipped)
}
