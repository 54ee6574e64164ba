package ctxlogger

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerKey, context içinde logger'ı saklamak için özel bir tip ve anahtar tanımlar.
type loggerKey struct{}

// ToContext, verilen context'e bir zerolog.Logger ekler.
func ToContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext, context'ten zerolog.Logger'ı alır.
// Eğer context'te logger bulunamazsa, global log'u döndürür.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return log.Logger
}

// WithCall, context'teki logger'a çağrı kimliklerini ekleyip yeni context döndürür.
// Çağrı ömrü boyunca her log satırında call_id ve campaign_id görünür.
func WithCall(ctx context.Context, callID string, campaignID int64) context.Context {
	l := FromContext(ctx).With().Str("call_id", callID).Int64("campaign_id", campaignID).Logger()
	return ToContext(ctx, l)
}
