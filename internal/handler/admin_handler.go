package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	"github.com/yourusername/campus-portal-api/internal/domain/repository"
	"github.com/yourusername/campus-portal-api/internal/handler/dto"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
	"github.com/yourusername/campus-portal-api/internal/service"
)

// maxImportFileSize ограничивает размер загружаемого xlsx (5 МБ)
const maxImportFileSize = 5 << 20

// AdminHandler обрабатывает административные операции: управление whitelist
// и отзыв доверия устройствам
type AdminHandler struct {
	whitelistRepo repository.WhitelistRepository
	deviceTrust   *service.DeviceTrustService
}

// NewAdminHandler создает новый административный обработчик
func NewAdminHandler(whitelistRepo repository.WhitelistRepository, deviceTrust *service.DeviceTrustService) *AdminHandler {
	return &AdminHandler{
		whitelistRepo: whitelistRepo,
		deviceTrust:   deviceTrust,
	}
}

// WhitelistEntryRequest — создание или обновление записи whitelist
type WhitelistEntryRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Role       string `json:"role" binding:"required"`
	CampusID   string `json:"campus_id" binding:"required,max=32"`
	FullName   string `json:"full_name" binding:"required,max=128"`
	Department string `json:"department" binding:"omitempty,max=128"`
}

// RevokeDeviceTrustRequest — отзыв доверия всем устройствам пользователя
type RevokeDeviceTrustRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (r *WhitelistEntryRequest) toEntity() *entity.WhitelistEntry {
	return &entity.WhitelistEntry{
		Email:      entity.NormalizeEmail(r.Email),
		Role:       r.Role,
		CampusID:   strings.TrimSpace(r.CampusID),
		FullName:   strings.TrimSpace(r.FullName),
		Department: strings.TrimSpace(r.Department),
	}
}

// CreateEntry обрабатывает POST /api/admin/whitelist
func (h *AdminHandler) CreateEntry(c *gin.Context) {
	var req WhitelistEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request"})
		return
	}
	if !entity.ValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role", "error_type": "invalid_role"})
		return
	}

	entry := req.toEntity()
	if err := h.whitelistRepo.Create(entry); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already whitelisted", "error_type": "duplicate_email"})
			return
		}
		log.Printf("[AdminHandler] Ошибка создания записи whitelist: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, dto.NewUserResponse(entry))
}

// UpdateEntry обрабатывает PUT /api/admin/whitelist/:email.
// Роль в записи может измениться; привязка роли в trusted-устройствах при
// этом не обновляется, несовпадение ролей обнулит доверие при следующем входе.
func (h *AdminHandler) UpdateEntry(c *gin.Context) {
	email := entity.NormalizeEmail(c.Param("email"))

	var req WhitelistEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request"})
		return
	}
	if !entity.ValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role", "error_type": "invalid_role"})
		return
	}
	if entity.NormalizeEmail(req.Email) != email {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email in body must match URL", "error_type": "invalid_request"})
		return
	}

	existing, err := h.whitelistRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found", "error_type": "not_found"})
			return
		}
		log.Printf("[AdminHandler] Ошибка чтения записи whitelist: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_error"})
		return
	}

	updated := req.toEntity()
	updated.ID = existing.ID
	if err := h.whitelistRepo.Update(updated); err != nil {
		log.Printf("[AdminHandler] Ошибка обновления записи whitelist: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, dto.NewUserResponse(updated))
}

// DeleteEntry обрабатывает DELETE /api/admin/whitelist/:email.
// Вместе с записью отзывается доверие ко всем устройствам пользователя.
func (h *AdminHandler) DeleteEntry(c *gin.Context) {
	email := entity.NormalizeEmail(c.Param("email"))

	if err := h.whitelistRepo.DeleteByEmail(email); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found", "error_type": "not_found"})
			return
		}
		log.Printf("[AdminHandler] Ошибка удаления записи whitelist: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_error"})
		return
	}

	revoked, err := h.deviceTrust.Revoke(email)
	if err != nil {
		// Запись уже удалена, вход невозможен; оставляем только лог
		log.Printf("[AdminHandler] Ошибка отзыва доверия устройств %s: %v", email, err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "devices_revoked": revoked})
}

// ListEntries обрабатывает GET /api/admin/whitelist с пагинацией
func (h *AdminHandler) ListEntries(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	entries, total, err := h.whitelistRepo.List(limit, offset)
	if err != nil {
		log.Printf("[AdminHandler] Ошибка получения whitelist: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_error"})
		return
	}

	responses := make([]*dto.UserResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, dto.NewUserResponse(&entries[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": responses,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// RevokeDeviceTrust обрабатывает POST /api/admin/device-trust/revoke.
// Пользователь остается в whitelist, но следующий вход потребует код.
func (h *AdminHandler) RevokeDeviceTrust(c *gin.Context) {
	var req RevokeDeviceTrustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request"})
		return
	}

	revoked, err := h.deviceTrust.Revoke(entity.NormalizeEmail(req.Email))
	if err != nil {
		log.Printf("[AdminHandler] Ошибка отзыва доверия устройств: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "devices_revoked": revoked})
}

// ImportWhitelist обрабатывает POST /api/admin/whitelist/import.
// Принимает xlsx с колонками: email, role, campus_id, full_name, department.
// Строки с ошибками пропускаются и возвращаются в ответе.
func (h *AdminHandler) ImportWhitelist(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is required", "error_type": "invalid_request"})
		return
	}
	if fileHeader.Size > maxImportFileSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File too large", "error_type": "file_too_large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Printf("[AdminHandler] Ошибка открытия загруженного файла: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot read file", "error_type": "invalid_request"})
		return
	}
	defer file.Close()

	f, err := excelize.OpenReader(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid xlsx file", "error_type": "invalid_file"})
		return
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Workbook has no sheets", "error_type": "invalid_file"})
		return
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		log.Printf("[AdminHandler] Ошибка чтения листа %s: %v", sheets[0], err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot read sheet", "error_type": "invalid_file"})
		return
	}

	type importError struct {
		Row    int    `json:"row"`
		Reason string `json:"reason"`
	}
	imported := 0
	skipped := []importError{}

	// Строка 1 — заголовки
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

		switch {
		case entry.Email == "" && entry.Role == "" && entry.CampusID == "":
			// Пустая строка, пропускаем молча
			continue
		case entry.Email == "" || !strings.Contains(entry.Email, "@"):
			skipped = append(skipped, importError{Row: rowNum, Reason: "invalid email"})
			continue
		case !entity.ValidRole(entry.Role):
			skipped = append(skipped, importError{Row: rowNum, Reason: "unknown role"})
			continue
		case entry.CampusID == "" || entry.FullName == "":
			skipped = append(skipped, importError{Row: rowNum, Reason: "campus_id and full_name are required"})
			continue
		}

		if err := h.whitelistRepo.Create(entry); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				skipped = append(skipped, importError{Row: rowNum, Reason: "duplicate email"})
				continue
			}
			log.Printf("[AdminHandler] Ошибка импорта строки %d: %v", rowNum, err)
			skipped = append(skipped, importError{Row: rowNum, Reason: "storage error"})
			continue
		}
		imported++
	}

	c.JSON(http.StatusOK, gin.H{
		"imported": imported,
		"skipped":  skipped,
	})
}

// ExportWhitelist обрабатывает GET /api/admin/whitelist/export.
// Выгружает весь whitelist в xlsx через StreamWriter.
func (h *AdminHandler) ExportWhitelist(c *gin.Context) {
	const batchSize = 500

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"whitelist_%s.xlsx\"", time.Now().Format("2006-01-02")))

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Whitelist"
	f.SetSheetName("Sheet1", sheetName)

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		log.Printf("[AdminHandler] Ошибка создания StreamWriter: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file", "error_type": "internal_error"})
		return
	}

	headers := []interface{}{"email", "role", "campus_id", "full_name", "department"}
	if err := sw.SetRow("A1", headers); err != nil {
		log.Printf("[AdminHandler] Ошибка записи заголовков: %v", err)
	}

	rowNum := 2
	for offset := 0; ; offset += batchSize {
		entries, _, err := h.whitelistRepo.List(batchSize, offset)
		if err != nil {
			log.Printf("[AdminHandler] Ошибка выборки whitelist (offset=%d): %v", offset, err)
			break
		}
		if len(entries) == 0 {
			break
		}

		for i := range entries {
			e := &entries[i]
			cell := fmt.Sprintf("A%d", rowNum)
			row := []interface{}{
				sanitizeForExcel(e.Email),
				e.Role,
				sanitizeForExcel(e.CampusID),
				sanitizeForExcel(e.FullName),
				sanitizeForExcel(e.Department),
			}
			if err := sw.SetRow(cell, row); err != nil {
				log.Printf("[AdminHandler] Ошибка записи строки %d: %v", rowNum, err)
			}
			rowNum++
		}

		if len(entries) < batchSize {
			break
		}
	}

	if err := sw.Flush(); err != nil {
		log.Printf("[AdminHandler] Ошибка при Flush: %v", err)
	}
	if err := f.Write(c.Writer); err != nil {
		log.Printf("[AdminHandler] Ошибка записи Excel в response: %v", err)
	}
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	// Символы, начинающие формулу в Excel/LibreOffice: = + - @ \t \r
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}
