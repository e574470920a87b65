package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/weightfetch/weightfetch/internal/engine/events"
	"github.com/weightfetch/weightfetch/internal/engine/types"
)

// DownloadTypeModel is the downloadType carried by validation events.
const DownloadTypeModel = "Model"

// Validator checks a finished file against the expectations of its item.
type Validator struct {
	Hasher  Hasher
	Emitter events.Emitter
	Log     zerolog.Logger
}

// New returns a Validator using SHA-256. A nil emitter discards events.
func New(emitter events.Emitter, log zerolog.Logger) *Validator {
	if emitter == nil {
		emitter = events.Discard
	}
	return &Validator{Hasher: SHA256{}, Emitter: emitter, Log: log}
}

// ModelID derives the artifact identifier from the file's parent directory.
func ModelID(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	if dir == "." || dir == string(filepath.Separator) || dir == "" {
		return "unknown"
	}
	return dir
}

// Validate checks size first, then the SHA-256 digest. An item without
// either expectation passes without the file being touched.
func (v *Validator) Validate(ctx context.Context, item types.DownloadItem, path string) error {
	if !item.HasValidationData() {
		v.Log.Debug().Str("url", item.URL).Msg("No validation data, skipping validation")
		return nil
	}

	modelID := ModelID(path)
	v.Emitter.Emit(events.ValidationStartedName, events.ValidationStarted{
		ModelID:      modelID,
		DownloadType: DownloadTypeModel,
	})
	v.Log.Info().Str("model", modelID).Str("url", item.URL).Msg("Starting validation")

	if item.Size != nil {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to verify file size: %w", err)
		}
		if info.Size() != *item.Size {
			v.Log.Error().
				Str("url", item.URL).
				Int64("expected", *item.Size).
				Int64("actual", info.Size()).
				Msg("Size verification failed")
			return &types.SizeMismatchError{Path: path, Expected: *item.Size, Actual: info.Size()}
		}
	}

	if ctx.Err() != nil {
		v.Log.Info().Str("url", item.URL).Msg("Validation cancelled")
		return types.Canceled("validation")
	}

	if item.SHA256 != "" {
		hasher := v.Hasher
		if hasher == nil {
			hasher = SHA256{}
		}
		sum, err := hasher.Sum(ctx, path)
		if err != nil {
			if types.IsCanceled(err) {
				return err
			}
			return fmt.Errorf("failed to verify file integrity: %w", err)
		}
		if !strings.EqualFold(sum, strings.TrimSpace(item.SHA256)) {
			// The computed digest goes to the log only.
			v.Log.Error().
				Str("url", item.URL).
				Str("expected", item.SHA256).
				Str("computed", sum).
				Msg("Hash verification failed")
			return fmt.Errorf("%w: the downloaded file is corrupted or has been tampered with", types.ErrHashMismatch)
		}
	}

	v.Log.Info().Str("url", item.URL).Msg("All validations passed")
	return nil
}
