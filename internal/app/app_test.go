package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ocr"
)

func TestDefaultCatalog(t *testing.T) {
	cat := DefaultCatalog()
	require.Len(t, cat.ExpenseCategories, len(constants.DefaultExpenseCategories))
	assert.Equal(t, int64(1), cat.ExpenseCategories[0].ID)
	assert.Equal(t, "Meals", cat.ExpenseCategories[0].Name)
	assert.Len(t, cat.IncomeCategories, len(constants.DefaultIncomeCategories))
	assert.Len(t, cat.PaymentMethods, len(constants.DefaultPaymentMethods))
}

func TestEngineOptions(t *testing.T) {
	opts := EngineOptions(common.PipelineConfig{TotalsTolerance: 0.02, ConfidenceThreshold: 0.8, MaxDateAgeDays: 30})
	assert.Equal(t, "0.02", opts.TotalsTolerance.String())
	assert.Equal(t, "0.8", opts.ConfidenceThreshold.String())
	assert.Equal(t, 30, opts.MaxDateAgeDays)
}

func TestNewExtractorProviders(t *testing.T) {
	tests := []struct {
		name string
		cfg  common.Config
		want []string
	}{
		{
			name: "tesseract only",
			cfg:  common.Config{OCR: common.OCRConfig{EnableTesseract: true}},
			want: []string{constants.ProviderTesseract},
		},
		{
			name: "vision needs a key",
			cfg:  common.Config{Vision: common.VisionConfig{Enabled: true}},
			want: []string{},
		},
		{
			name: "tesseract then vision",
			cfg: common.Config{
				OCR:    common.OCRConfig{EnableTesseract: true},
				Vision: common.VisionConfig{Enabled: true, APIKey: "k"},
			},
			want: []string{constants.ProviderTesseract, constants.ProviderMistral},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := ocr.ExecRunner{}
			ex, enabled := newExtractor(tt.cfg, ocr.NewPDFText(runner, "pdftotext", nil), runner, nil, nil)
			got := ex.Providers()
			if got == nil {
				got = []string{}
			}
			assert.Equal(t, tt.want, got)
			assert.True(t, enabled[constants.ProviderNativeText])
			assert.False(t, enabled[constants.ProviderVision])
		})
	}
}
