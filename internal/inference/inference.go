// Package inference hides the image-to-text model behind a single call.
package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"mcp-meal-lens/internal/config"
)

// UserInstruction is the text that precedes the images in the user turn.
const UserInstruction = "Strictly follow the system instructions."

// Inferencer sends a system prompt and zero or more images to a model and
// returns its text reply.
type Inferencer interface {
	Infer(ctx context.Context, prompt string, images []Image) (string, error)
}

// InferFunc adapts a function to Inferencer.
type InferFunc func(ctx context.Context, prompt string, images []Image) (string, error)

func (f InferFunc) Infer(ctx context.Context, prompt string, images []Image) (string, error) {
	return f(ctx, prompt, images)
}

var ErrUnsupportedImage = errors.New("unsupported image type")

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
}

// Image is one uploaded meal photo.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

// NewImage validates an upload by file extension, falling back to sniffing
// the content when the name carries no known extension.
func NewImage(name string, data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: %q is empty", ErrUnsupportedImage, name)
	}
	if mt, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return Image{Name: name, MIMEType: mt, Data: data}, nil
	}
	mt := http.DetectContentType(data)
	for _, accepted := range extensionTypes {
		if mt == accepted {
			return Image{Name: name, MIMEType: mt, Data: data}, nil
		}
	}
	return Image{}, fmt.Errorf("%w: %q (%s)", ErrUnsupportedImage, name, mt)
}

// DecodeImage builds an Image from base64 data as sent in tool arguments.
// A data URL prefix is accepted and stripped.
func DecodeImage(name, encoded string) (Image, error) {
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Image{}, fmt.Errorf("failed to decode image %q: %w", name, err)
	}
	return NewImage(name, data)
}

// DataURL renders the image as a base64 data URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// New builds the backend named by cfg.Provider.
func New(cfg config.Model) (Inferencer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIInferencer(cfg)
	case config.ProviderGateway:
		return NewGatewayInferencer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}
