package tracks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Viewer/internal/core"
)

var (
	ErrInvalidCodec    = errors.New("track has no usable codec")
	ErrCodecNotAllowed = errors.New("codec not allowed")
)

// ConstraintApplier (re-)applies constraints to an inbound track before it
// is attached. Apply may block; the router never retries a failure.
type ConstraintApplier interface {
	Apply(ctx context.Context, track core.RemoteTrack) error
}

// CodecConstraints requires a negotiated codec with a clock rate and, when
// MimeTypes is not empty, one of the listed mime types.
type CodecConstraints struct {
	MimeTypes []string
}

func (c CodecConstraints) Apply(ctx context.Context, track core.RemoteTrack) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	codec := track.Codec()
	if codec.MimeType == "" || codec.ClockRate == 0 {
		return fmt.Errorf("%w: mime=%q clock=%d", ErrInvalidCodec, codec.MimeType, codec.ClockRate)
	}
	if len(c.MimeTypes) == 0 {
		return nil
	}
	for _, m := range c.MimeTypes {
		if strings.EqualFold(m, codec.MimeType) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrCodecNotAllowed, codec.MimeType)
}
