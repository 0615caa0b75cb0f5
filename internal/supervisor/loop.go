// internal/supervisor/loop.go
package supervisor

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// runEvery chama tick a cada intervalo até o ctx ser cancelado. Um panic no
// tick é logado e o loop segue no próximo intervalo.
func runEvery(ctx context.Context, name string, interval time.Duration, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[%s] loop iniciado (intervalo=%s)", name, interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] loop encerrado (context canceled)", name)
			return
		case <-ticker.C:
			safeTick(name, tick)
		}
	}
}

func safeTick(name string, tick func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] panic no tick: %v\n%s", name, r, string(debug.Stack()))
		}
	}()
	tick()
}
