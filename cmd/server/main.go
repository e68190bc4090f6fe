// Command server runs the HTTP API: LINE webhook intake, feed item
// admission, agent endpoints and delivery ops. Outbound sending runs in the
// separate sender binary.
//
// Exit codes: 0 = clean shutdown, 1 = error.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/heartmarshall/newsline-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("run server: %v", err)
	}
}
