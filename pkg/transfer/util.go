package transfer

import (
	"context"
	"log/slog"

	"github.com/mjvec/hyperstream/pkg/errs"
	"github.com/mjvec/hyperstream/pkg/logging"
)

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	return logging.OrDefault(l)
}

// remapCancelled turns an I/O error caused by the session's own cancel
// watchdog closing the socket into errs.ErrCancelled, so callers can
// distinguish "user cancelled" from "peer or network failed".
func remapCancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errs.ErrCancelled
	}
	return err
}
