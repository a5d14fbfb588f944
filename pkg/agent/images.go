package agent

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/ledger"
)

const userInputPrefix = "user_input_"

// ImageInput is an image attached to a request by the user.
type ImageInput struct {
	DisplayName string
	Data        []byte
}

// SavedImage describes a stored input image.
type SavedImage struct {
	Artifact ledger.Artifact
	Filename string
	MimeType string
	Version  int
	Width    int
	Height   int
}

// SaveImage stores img as "user_input_<name>" and records it as an image
// artifact of the invocation. PNG, JPEG and GIF are accepted.
func SaveImage(ctx context.Context, sink artifacts.Sink, led *ledger.Ledger, inv Invocation, img ImageInput) (*SavedImage, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %q: %w", img.DisplayName, err)
	}

	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(img.DisplayName), `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "image." + format
	}
	saved := &SavedImage{
		Filename: userInputPrefix + name,
		MimeType: "image/" + format,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}

	saved.Version, err = sink.Save(ctx, artifacts.Locator{UserID: inv.UserID, SessionID: inv.SessionID}, saved.Filename, saved.MimeType, img.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}
	saved.Artifact, err = led.Append(ctx, inv.ID, ledger.TypeImage, ledger.Metadata{
		Filename:  saved.Filename,
		MimeType:  saved.MimeType,
		UserQuery: inv.UserQuery,
		ImgSize:   &[2]int{cfg.Width, cfg.Height},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record image: %w", err)
	}
	return saved, nil
}
