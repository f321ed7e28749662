package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	httpserver "github.com/fyrsmithlabs/devscontext/internal/http"
	"github.com/fyrsmithlabs/devscontext/internal/orchestrator"
	"github.com/fyrsmithlabs/devscontext/internal/sources"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
)

// ExampleServer shows the API served over an orchestrator with no sources.
func ExampleServer() {
	plugin, err := synthesis.NewPlugin(config.SynthesisConfig{Plugin: "passthrough"})
	if err != nil {
		panic(err)
	}
	orch := orchestrator.New(sources.NewRegistry(sources.Deps{}), plugin)

	server, err := httpserver.NewServer(orch, zap.NewNop(), &httpserver.Config{Host: "127.0.0.1", Port: 8080})
	if err != nil {
		panic(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			fmt.Println(err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
