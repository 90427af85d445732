package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/gin-gonic/gin"
)

// maxWorkbookSize bounds uploaded .xlsx files.
const maxWorkbookSize = 16 << 20

type ExamSetHandler struct {
	BaseHandler
	examSets  services.ExamSetService
	assembler services.AssemblerService
	importer  services.ImportService
}

func NewExamSetHandler(examSets services.ExamSetService, assembler services.AssemblerService, importer services.ImportService, logger utils.Logger) *ExamSetHandler {
	return &ExamSetHandler{
		BaseHandler: NewBaseHandler(logger),
		examSets:    examSets,
		assembler:   assembler,
		importer:    importer,
	}
}

// @Router /exam-sets [get]
func (h *ExamSetHandler) ListExamSets(c *gin.Context) {
	var query services.ExamSetListQuery
	if !h.bindQuery(c, &query) {
		return
	}

	page, err := h.examSets.List(c.Request.Context(), &query)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// @Router /exam-sets/{id} [get]
func (h *ExamSetHandler) GetExamSet(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	summary, err := h.examSets.Get(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// UpdateExamSet changes title, description or time limits. Content is
// replaced by importing a new set.
// @Router /exam-sets/{id} [patch]
func (h *ExamSetHandler) UpdateExamSet(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var req services.UpdateExamSetRequest
	if !h.bindJSON(c, &req) {
		return
	}

	h.LogRequest(c, "Updating exam set", "exam_set_id", id)

	summary, err := h.examSets.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// PreviewQuestions returns the assembled question order for a part filter,
// without answer keys.
// @Router /exam-sets/{id}/questions [get]
func (h *ExamSetHandler) PreviewQuestions(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	parts, ok := h.parseParts(c)
	if !ok {
		return
	}

	preview, err := h.assembler.Preview(c.Request.Context(), id, parts)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// ImportWorkbook creates an exam set from a multipart .xlsx upload.
// Form fields: file, title, description, time_limit_minutes.
// @Router /exam-sets/import [post]
func (h *ExamSetHandler) ImportWorkbook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWorkbookSize)

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Form field 'file' is required",
			Details: err.Error(),
		})
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Only .xlsx workbooks are supported",
			Details: header.Filename,
		})
		return
	}

	opts := services.ImportOptions{Title: c.PostForm("title")}
	if desc := strings.TrimSpace(c.PostForm("description")); desc != "" {
		opts.Description = &desc
	}
	if raw := c.PostForm("time_limit_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "time_limit_minutes must be a non-negative integer",
				Details: raw,
			})
			return
		}
		opts.TimeLimitMinutes = minutes
	}

	file, err := header.Open()
	if err != nil {
		h.LogError(c, err, "Failed to open uploaded workbook")
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Failed to read upload"})
		return
	}
	defer file.Close()

	h.LogRequest(c, "Importing exam set", "file", header.Filename, "size", header.Size)

	report, err := h.importer.ImportWorkbook(c.Request.Context(), file, opts)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}
