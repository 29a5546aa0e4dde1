package services

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultPrompt is the food-photography instruction sent with every edit.
const DefaultPrompt = "Take the uploaded image and produce an enhanced version that strictly keeps the same " +
	"ingredients, colors, shapes, sizes, positions and proportions as the original dish, without adding, " +
	"removing or changing any element. " +
	"Discreetly fix small visual defects such as stains, dents or irregularities that could hurt the look " +
	"of the food, making it more even and appealing while still natural. " +
	"Focus only on aesthetics: bring out textures, correct light and color, balance contrast and saturation " +
	"realistically, and give a sense of freshness and juiciness without looking artificial. " +
	"The result must be practically identical to the base photo, with a clean finish, a more appetizing look " +
	"and the realistic professional food photography style used in restaurants' digital menus."

var ErrProviderTimeout = errors.New("image provider timed out")

// ImageEditor is the provider behind the gateway, e.g. *openai.Client.
type ImageEditor interface {
	EditImage(ctx context.Context, image []byte, filename, prompt string) ([]byte, error)
}

type Outcome int

const (
	// OutcomeEnhanced carries provider output.
	OutcomeEnhanced Outcome = iota
	// OutcomeDegraded carries the original image after a provider error.
	OutcomeDegraded
	// OutcomeFailed carries no image: the call timed out or was cancelled.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEnhanced:
		return "enhanced"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

type EnhanceResult struct {
	Outcome  Outcome
	Image    []byte
	MimeType string
	Degraded bool
	// Err is the provider error behind a degraded or failed outcome.
	Err error
}

// EnhancementGateway wraps one provider call in a timeout and turns every
// provider failure into a result value.
type EnhancementGateway struct {
	editor  ImageEditor
	prompt  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewEnhancementGateway(editor ImageEditor, prompt string, timeout time.Duration, logger *slog.Logger) *EnhancementGateway {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &EnhancementGateway{
		editor:  editor,
		prompt:  prompt,
		timeout: timeout,
		logger:  logger,
	}
}

func (g *EnhancementGateway) Enhance(ctx context.Context, image []byte, filename string) EnhanceResult {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	out, err := g.editor.EditImage(callCtx, image, filename, g.prompt)
	elapsed := time.Since(started)

	if err == nil {
		g.logger.Info("image enhanced", "duration", elapsed, "bytes", len(out))
		return EnhanceResult{
			Outcome:  OutcomeEnhanced,
			Image:    out,
			MimeType: mimetype.Detect(out).String(),
		}
	}

	switch {
	case ctx.Err() != nil:
		g.logger.Warn("image enhancement cancelled by caller", "duration", elapsed, "error", err)
		return EnhanceResult{Outcome: OutcomeFailed, Err: ctx.Err()}
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) || isTimeout(err):
		g.logger.Warn("image enhancement timed out", "timeout", g.timeout, "error", err)
		return EnhanceResult{Outcome: OutcomeFailed, Err: errors.Join(ErrProviderTimeout, err)}
	}

	g.logger.Warn("image enhancement failed, returning original", "duration", elapsed, "error", err)
	return EnhanceResult{
		Outcome:  OutcomeDegraded,
		Image:    image,
		MimeType: mimetype.Detect(image).String(),
		Degraded: true,
		Err:      err,
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
