package audit

import "context"

type ctxKey int

const recorderCtxKey ctxKey = 1

func WithRecorder(ctx context.Context, r Recorder) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, recorderCtxKey, r)
}

func RecorderFromContext(ctx context.Context) Recorder {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(recorderCtxKey).(Recorder)
	return r
}

// RecordCtx sends an event to the recorder carried by ctx, if any.
func RecordCtx(ctx context.Context, action, level string, details map[string]any) {
	r := RecorderFromContext(ctx)
	if r == nil {
		return
	}
	r.Record(ctx, action, level, details)
}
