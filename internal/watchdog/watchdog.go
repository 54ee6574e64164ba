// sentiric-dialer-service/internal/watchdog/watchdog.go
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 10 * time.Second

// Call, platform tarafında zaman aşımı garantisi olmayan bir işlemi yerel bir
// bekçi süresiyle sarar. Tek bir takılı çağrının bir eşzamanlılık slotunu
// süresiz işgal etmesini engeller.
//
// Örnek kullanım:
//
//	text, err := watchdog.Call(ctx, 20*time.Second, func(ctx context.Context) (string, error) {
//	    return llm.Generate(ctx, messages)
//	})
func Call[T any](
	parentCtx context.Context,
	timeout time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	result, err := fn(ctx)

	if err != nil && ctx.Err() == context.DeadlineExceeded {
		log.Warn().Dur("timeout", timeout).Msg("⏱️ İşlem bekçi süresini aştı.")
	}

	return result, err
}
