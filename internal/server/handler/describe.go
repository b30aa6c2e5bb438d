package handler

import (
	"math/rand"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/runninghub-studio/studio/internal/model"
	"github.com/runninghub-studio/studio/internal/runninghub"
	"github.com/runninghub-studio/studio/internal/utils"
)

// MockAnalyses are the canned answers of /api/analyze.
var MockAnalyses = []model.AnalysisResult{
	{
		Summary:    "Indoor portrait, soft light, shallow depth of field",
		Details:    "A professional portrait shot in natural light with a well blurred background. The expression is relaxed, the light is soft and the overall tone is warm. Suitable for avatars, social media or a resume.",
		Tags:       []string{"portrait", "indoor", "natural light", "professional"},
		Confidence: 0.92,
	},
	{
		Summary:    "Landscape, sunset, mountains",
		Details:    "A mountain scene taken at sunset. Layers are clearly separated and colors are saturated. Warm light makes it a good wallpaper or travel record.",
		Tags:       []string{"landscape", "mountains", "sunset", "outdoor"},
		Confidence: 0.89,
	},
	{
		Summary:    "Pet photo, animal close-up, natural setting",
		Details:    "A pet caught mid-expression against a simple background. The subject stands out and colors look natural.",
		Tags:       []string{"pet", "animal", "close-up", "outdoor"},
		Confidence: 0.95,
	},
	{
		Summary:    "Product shot, minimal style, still life",
		Details:    "A product photographed on a clean background with even lighting and crisp detail. Fits e-commerce listings and brand pages.",
		Tags:       []string{"product", "still life", "minimal", "commercial"},
		Confidence: 0.88,
	},
	{
		Summary:    "Abstract art, rich colors, creative design",
		Details:    "An abstract piece with bold colors and an unusual composition. Strong visual impact, usable as decoration or design material.",
		Tags:       []string{"abstract", "art", "color", "creative"},
		Confidence: 0.86,
	},
}

// Analyze answers with a random canned analysis. There is no model behind it.
func (h *Handler) Analyze(c *gin.Context) {
	var req model.AnalyzeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		failInput(c, err, runninghub.CodeMissingImage, "")
		return
	}
	if strings.TrimSpace(req.ImageDataURL) == "" {
		utils.GinFailedWithMessage(c, runninghub.CodeMissingImage, "")
		return
	}
	c.JSON(http.StatusOK, model.AnalyzeResponse{Analysis: MockAnalyses[rand.Intn(len(MockAnalyses))]})
}
