package server

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer *http.Server
	// handlers answer plain request/response routes, streams hold long-lived connections
	// and are never wrapped in timeouts
	handlers      map[string]http.Handler
	streams       map[string]http.Handler
	afterShutdown []func()
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host           string        `env:"HOST" envDefault:"0.0.0.0"`
	Port           uint16        `env:"PORT" envDefault:"5000"`
	JWTSecret      string        `env:"JWT_SECRET,required"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	// AllowedOrigins lists browser origins accepted on the websocket endpoint, "*" accepts any
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Production reports whether the service runs with APP_ENV=production
func (cfg EnvConfig) Production() bool {
	return cfg.AppEnv == "production"
}

// WithEnvConfig enables processing exported EnvConfig struct to acts as a source of config parameters for http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
		if cfg.ReadTimeout > 0 {
			ReadTimeout(cfg.ReadTimeout).apply(c)
		}
		if cfg.RequestTimeout > 0 {
			TimeoutHandler(cfg.RequestTimeout, `{"error": "request timed out"}`).apply(c)
		}
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// TimeoutHandler wraps each handler in handlers map in http.TimeoutHandler with provided duration and message.
// Stream handlers are left as is.
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = http.TimeoutHandler(h, d, msg)
		}
	})
}

// applyAuthenticate wraps every handler and stream except the public ones in authenticate middleware
func applyAuthenticate(auth Authenticator, logger *zap.SugaredLogger, public ...string) Option {
	return optionFunc(func(c *config) {
		isPublic := make(map[string]bool, len(public))
		for _, pattern := range public {
			isPublic[pattern] = true
		}

		for _, routes := range []map[string]http.Handler{c.handlers, c.streams} {
			for pattern, h := range routes {
				if !isPublic[pattern] {
					routes[pattern] = authenticate(h, auth, logger)
				}
			}
		}
	})
}

// applyLog wraps each http.Handler in handlers and streams maps with log middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		for _, routes := range []map[string]http.Handler{c.handlers, c.streams} {
			for pattern, h := range routes {
				routes[pattern] = log(h, logger)
			}
		}
	})
}

// registerHandlers registers every handler and stream for newly initialized http.ServeMux
// that http.ServeMux is used as a http.Handler for http.Server in config struct
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for _, routes := range []map[string]http.Handler{c.handlers, c.streams} {
			for pattern, h := range routes {
				mux.Handle(pattern, h)
			}
		}
		c.httpServer.Handler = mux
	})
}
