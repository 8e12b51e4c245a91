// Package container builds the ectoinject dependency container request handlers resolve their
// services from.
package container

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
)

// New creates and registers a container with a unique id. Missing dependencies are an error,
// so handlers never receive a nil service.
func New(logger ectologger.Logger) (ectocontainer.DIContainer, error) {
	return ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       "fern-" + uuid.NewString(),
		AllowCaptiveDependencies: true,
		AllowMissingDependencies: false,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
			Prefix:   "ectoinject",
			LogLevel: loglevel.WARN,
			Enabled:  true,
			LogFunc: func(ctx context.Context, level, msg string) {
				log := logger.WithContext(ctx).WithField("component", "ectoinject")
				if level == loglevel.WARN {
					log.Warn(msg)
					return
				}
				log.Debug(msg)
			},
		},
	})
}
