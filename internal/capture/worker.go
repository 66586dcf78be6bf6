package capture

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
)

// Run consumes validated capture requests from the intake queue until the
// context finishes. Dispatch failures are logged; the loop never stops for
// a bad request.
func (o *Orchestrator) Run(ctx context.Context, queue archive.Queue) {
	for {
		request, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, archive.ErrQueueClosed) {
				return
			}
			o.logger.Error("dequeue capture request", zap.Error(err))
			continue
		}
		if err := o.dispatch(ctx, request); err != nil {
			o.logger.Error("dispatch capture request",
				zap.String("kind", string(request.Kind)),
				zap.Error(err),
			)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, request archive.CaptureRequest) error {
	switch request.Kind {
	case archive.RequestSingle:
		_, err := o.StartCapture(ctx, request.URL, request.Options)
		return err
	case archive.RequestMulti:
		_, err := o.CaptureMulti(ctx, request.URLs, request.Options)
		return err
	case archive.RequestCurated:
		if request.Curated == nil {
			return errNilCurated
		}
		_, err := o.CaptureCurated(
			ctx,
			request.Curated.CrawlID,
			request.Curated.SelectedURLs,
			request.Curated.AdditionalURLs,
			request.Curated.ExcludedURLs,
			request.Options,
		)
		return err
	default:
		return errUnknownRequestKind(request.Kind)
	}
}
