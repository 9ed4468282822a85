package test

import (
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/tracing"
)

// Tracer returns a tracer that records nothing
func Tracer(log *logger.Logger) *tracing.Tracer {
	return tracing.NewNoop(log, "test")
}
