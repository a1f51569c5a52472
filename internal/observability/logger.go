package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the global logger tagged with component.
func Logger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
