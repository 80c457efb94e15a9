package inference

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"mcp-meal-lens/internal/config"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	gifBytes  = []byte("GIF89a\x01\x00\x01\x00")
)

func TestNewImage(t *testing.T) {
	t.Run("by extension", func(t *testing.T) {
		img, err := NewImage("lunch.JPG", []byte("anything"))
		require.NoError(t, err)
		require.Equal(t, "image/jpeg", img.MIMEType)

		img, err = NewImage("scan.tiff", []byte("II*\x00"))
		require.NoError(t, err)
		require.Equal(t, "image/tiff", img.MIMEType)
	})

	t.Run("sniffed when extension unknown", func(t *testing.T) {
		img, err := NewImage("upload", pngBytes)
		require.NoError(t, err)
		require.Equal(t, "image/png", img.MIMEType)

		img, err = NewImage("photo.bin", jpegBytes)
		require.NoError(t, err)
		require.Equal(t, "image/jpeg", img.MIMEType)
	})

	t.Run("rejected types", func(t *testing.T) {
		_, err := NewImage("anim.gif", gifBytes)
		require.ErrorIs(t, err, ErrUnsupportedImage)

		_, err = NewImage("notes.txt", []byte("hello"))
		require.ErrorIs(t, err, ErrUnsupportedImage)

		_, err = NewImage("empty.png", nil)
		require.ErrorIs(t, err, ErrUnsupportedImage)
	})
}

func TestDecodeImage(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngBytes)

	img, err := DecodeImage("a.png", encoded)
	require.NoError(t, err)
	require.Equal(t, pngBytes, img.Data)

	img, err = DecodeImage("b", "data:image/png;base64,"+encoded)
	require.NoError(t, err)
	require.Equal(t, "image/png", img.MIMEType)
	require.Equal(t, "data:image/png;base64,"+encoded, img.DataURL())

	_, err = DecodeImage("c.png", "%%% not base64")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to decode image")
}

func TestInferFunc(t *testing.T) {
	var gotPrompt string
	var inf Inferencer = InferFunc(func(_ context.Context, prompt string, images []Image) (string, error) {
		gotPrompt = prompt
		return "ok", nil
	})
	out, err := inf.Infer(context.Background(), "p", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, "p", gotPrompt)
}

func TestNew(t *testing.T) {
	inf, err := New(config.Model{Provider: config.ProviderOpenAI, BaseURL: "http://localhost", Name: "m"})
	require.NoError(t, err)
	require.IsType(t, &OpenAIInferencer{}, inf)

	inf, err = New(config.Model{Provider: config.ProviderGateway, ProxyURL: "http://proxy/", Name: "m"})
	require.NoError(t, err)
	require.IsType(t, &GatewayInferencer{}, inf)
	require.Equal(t, "http://proxy", inf.(*GatewayInferencer).proxyURL)

	_, err = New(config.Model{Provider: "local"})
	require.Error(t, err)

	_, err = New(config.Model{Provider: config.ProviderOpenAI, Name: "m"})
	require.Error(t, err)
}
