package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

type fakeNative struct {
	text string
	err  error
}

func (f fakeNative) NativeText(context.Context, []byte) (string, error) { return f.text, f.err }

type fakeProvider struct {
	name  string
	text  string
	err   error
	delay time.Duration
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Extract(ctx context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

var longText = strings.Repeat("STARBUCKS 12.50 ", 10)

func TestExtract_DigitalPDF(t *testing.T) {
	ex := New(fakeNative{text: longText}, nil, time.Second, nil)

	res, err := ex.Extract(context.Background(), Request{MimeType: "application/pdf", Kind: constants.IngestDigital})
	require.NoError(t, err)
	assert.Equal(t, constants.ProviderNativeText, res.Provider)
	assert.Equal(t, 0.95, res.Confidence)
	assert.Equal(t, strings.TrimSpace(longText), res.Text)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, PhaseSucceeded, res.Attempts[0].Phase)
}

func TestExtract_DigitalPDF_InsufficientText(t *testing.T) {
	ex := New(fakeNative{text: "  total   12.50  \n"}, nil, time.Second, nil)

	_, err := ex.Extract(context.Background(), Request{MimeType: constants.MimePDF, Kind: constants.IngestDigital})
	assert.ErrorIs(t, err, ErrInsufficientText)
}

func TestExtract_DigitalPDF_TextLength(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{"interior spaces count", strings.Repeat("abcdefghi ", 5) + "xxxxx", strings.Repeat("abcdefghi ", 5) + "xxxxx", false},
		{"outer whitespace trimmed", "\n\t " + strings.Repeat("a", 50) + "  \n", strings.Repeat("a", 50), false},
		{"49 chars after trim", "   " + strings.Repeat("a", 49) + "   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := New(fakeNative{text: tt.text}, nil, time.Second, nil)
			res, err := ex.Extract(context.Background(), Request{MimeType: constants.MimePDF, Kind: constants.IngestDigital})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInsufficientText)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Text)
		})
	}
}

func TestExtract_UnsupportedCombination(t *testing.T) {
	ex := New(fakeNative{text: longText}, nil, time.Second, nil)

	_, err := ex.Extract(context.Background(), Request{MimeType: constants.MimePNG, Kind: constants.IngestDigital})
	assert.ErrorIs(t, err, ErrUnsupportedCombination)

	_, err = ex.Extract(context.Background(), Request{MimeType: constants.MimePNG, Kind: "hybrid"})
	assert.ErrorIs(t, err, ErrUnsupportedCombination)
}

func TestExtract_FallbackOrder(t *testing.T) {
	first := &fakeProvider{name: "tesseract", err: errors.New("exit status 1")}
	second := &fakeProvider{name: "mistral", text: "  "}
	third := &fakeProvider{name: "vision", text: "STARBUCKS TOTAL 12.50"}
	fourth := &fakeProvider{name: "never", text: "unused"}
	ex := New(nil, []Provider{first, second, third, fourth}, time.Second, nil)

	res, err := ex.Extract(context.Background(), Request{MimeType: constants.MimeJPEG, Kind: constants.IngestScanned})
	require.NoError(t, err)
	assert.Equal(t, "vision", res.Provider)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Equal(t, 0, fourth.calls)

	require.Len(t, res.Attempts, 3)
	assert.Equal(t, PhaseExhausted, res.Attempts[0].Phase)
	assert.Equal(t, PhaseExhausted, res.Attempts[1].Phase)
	assert.ErrorIs(t, res.Attempts[1].Err, ErrEmptyText)
	assert.Equal(t, PhaseSucceeded, res.Attempts[2].Phase)
}

func TestExtract_TimeoutIsProviderFailure(t *testing.T) {
	slow := &fakeProvider{name: "slow", text: "late", delay: time.Second}
	fast := &fakeProvider{name: "fast", text: "RECEIPT TOTAL 9.90"}
	ex := New(nil, []Provider{slow, fast}, 20*time.Millisecond, nil)

	res, err := ex.Extract(context.Background(), Request{MimeType: constants.MimePNG, Kind: constants.IngestScanned})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Provider)

	var pe *ProviderError
	require.ErrorAs(t, res.Attempts[0].Err, &pe)
	assert.Equal(t, KindTransient, pe.Kind)
	assert.ErrorIs(t, pe, context.DeadlineExceeded)
}

func TestExtract_AllProvidersFail(t *testing.T) {
	boom := errors.New("boom")
	ex := New(nil, []Provider{
		&fakeProvider{name: "a", err: Permanent("a", ErrUnsupportedMime)},
		&fakeProvider{name: "b", err: Transient("b", boom)},
	}, time.Second, nil)

	res, err := ex.Extract(context.Background(), Request{MimeType: constants.MimePDF, Kind: constants.IngestScanned})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
	assert.ErrorIs(t, err, ErrUnsupportedMime)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, res.Attempts, 2)
}

func TestExtract_NoProvidersConfigured(t *testing.T) {
	ex := New(nil, nil, time.Second, nil)

	_, err := ex.Extract(context.Background(), Request{MimeType: constants.MimePNG, Kind: constants.IngestScanned})
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}
