package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// LogSink writes every progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Keyword != "" || evt.Place != "" {
			fields = append(fields, zap.String("keyword", evt.Keyword), zap.String("place", evt.Place))
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", evt.Outcome))
		}
		if evt.ErrorKind != "" {
			fields = append(fields, zap.String("error_kind", evt.ErrorKind))
		}
		if evt.Proxy != "" {
			fields = append(fields, zap.String("proxy", evt.Proxy))
		}
		fields = append(fields, zap.Int("count", evt.Count), zap.Duration("dur", evt.Dur))
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.ErrorKind != "" {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
