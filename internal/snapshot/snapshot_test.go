package snapshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEvaluator answers each tier by matching a marker substring in the
// script source.
type scriptedEvaluator struct {
	direct      string
	sanitized   string
	placeholder string
	calls       []string
}

func tierOK(dataURL string) string {
	b, _ := json.Marshal(map[string]any{"ok": true, "dataUrl": dataURL})
	return string(b)
}

func tierFail(msg string) string {
	b, _ := json.Marshal(map[string]any{"ok": false, "error": msg})
	return string(b)
}

func (e *scriptedEvaluator) Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	switch {
	case strings.Contains(js, "cloneNode"):
		e.calls = append(e.calls, "sanitized")
		return json.RawMessage(e.sanitized), nil
	case strings.Contains(js, "Preview capture unavailable"):
		e.calls = append(e.calls, "placeholder")
		return json.RawMessage(e.placeholder), nil
	case strings.Contains(js, "XMLSerializer"):
		e.calls = append(e.calls, "direct")
		return json.RawMessage(e.direct), nil
	default:
		return nil, fmt.Errorf("unexpected script")
	}
}

func TestCaptureDirectSuccess(t *testing.T) {
	eval := &scriptedEvaluator{direct: tierOK("data:image/png;base64,AAAA")}
	c := New(eval, zerolog.Nop())

	got, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", got)
	assert.Equal(t, []string{"direct"}, eval.calls)
}

func TestCaptureSecurityFailureTriggersSanitized(t *testing.T) {
	eval := &scriptedEvaluator{
		direct:    tierFail("SecurityError: Failed to execute 'toDataURL': Tainted canvases may not be exported."),
		sanitized: tierOK("data:image/png;base64,BBBB"),
	}
	c := New(eval, zerolog.Nop())

	got, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,BBBB", got)
	assert.Equal(t, []string{"direct", "sanitized"}, eval.calls)
}

func TestCaptureNonSecurityFailureSkipsSanitized(t *testing.T) {
	eval := &scriptedEvaluator{
		direct:      tierFail("snapshot image failed to load"),
		placeholder: tierOK("data:image/png;base64,CCCC"),
	}
	c := New(eval, zerolog.Nop())

	got, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,CCCC", got)
	assert.Equal(t, []string{"direct", "placeholder"}, eval.calls)
}

func TestCaptureSanitizedFailureFallsToPlaceholder(t *testing.T) {
	eval := &scriptedEvaluator{
		direct:      tierFail("SecurityError"),
		sanitized:   tierFail("still insecure"),
		placeholder: tierOK("data:image/png;base64,DDDD"),
	}
	c := New(eval, zerolog.Nop())

	got, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,DDDD", got)
	assert.Equal(t, []string{"direct", "sanitized", "placeholder"}, eval.calls)
}

func TestCaptureFloorWhenEverythingFails(t *testing.T) {
	eval := &scriptedEvaluator{
		direct:      tierFail("boom"),
		placeholder: tierFail("no canvas"),
	}
	c := New(eval, zerolog.Nop())

	got, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transparentPixelPNG, got)
}

func TestCaptureCancelledContextErrors(t *testing.T) {
	eval := &scriptedEvaluator{
		direct:      tierFail("boom"),
		placeholder: tierFail("no canvas"),
	}
	c := New(eval, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := c.Capture(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, got)
}

func TestSecurityErrorHeuristic(t *testing.T) {
	assert.True(t, securityError("Tainted canvases may not be exported"))
	assert.True(t, securityError("SecurityError: blocked"))
	assert.True(t, securityError("operation is insecure"))
	assert.False(t, securityError("image failed to load"))
}

func TestShrinkDownscalesWidePNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	for x := 0; x < 100; x++ {
		for y := 0; y < 50; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	dataURL := pngDataPrefix + base64.StdEncoding.EncodeToString(buf.Bytes())

	eval := &scriptedEvaluator{direct: tierOK(dataURL)}
	c := New(eval, zerolog.Nop())
	c.PreviewWidth = 40

	got, err := c.Capture(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, pngDataPrefix))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got, pngDataPrefix))
	require.NoError(t, err)
	small, err := png.Decode(bytes.NewReader(decoded))
	require.NoError(t, err)
	assert.Equal(t, 40, small.Bounds().Dx())
	assert.Equal(t, 20, small.Bounds().Dy())
}

func TestShrinkLeavesSmallImagesAlone(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	dataURL := pngDataPrefix + base64.StdEncoding.EncodeToString(buf.Bytes())

	eval := &scriptedEvaluator{direct: tierOK(dataURL)}
	c := New(eval, zerolog.Nop())
	c.PreviewWidth = 40

	got, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dataURL, got)
}

func TestShrinkPassesThroughNonPNG(t *testing.T) {
	c := New(&scriptedEvaluator{}, zerolog.Nop())
	c.PreviewWidth = 40
	jpeg := "data:image/jpeg;base64,AAAA"
	assert.Equal(t, jpeg, c.shrink(jpeg))
}
