package mongosvc

import (
	"net"
	"strconv"
	"time"

	"github.com/tychoish/emt"
	"github.com/tychoish/mongosvc/wire"
)

const (
	DefaultDialTimeout     = 10 * time.Second
	DefaultMaxResponseSize = wire.DefaultMaxFrameSize
)

// Config describes how a client reaches the mongo service.
type Config struct {
	Host string
	Port int

	// Application names the calling program. It is required but not yet
	// sent to the service.
	Application string

	DialTimeout time.Duration
	// RequestTimeout bounds each exchange when the caller's context has
	// no deadline of its own. Zero waits indefinitely.
	RequestTimeout  time.Duration
	MaxResponseSize int
}

func NewConfig(host string, port int, application string) Config {
	return Config{
		Host:            host,
		Port:            port,
		Application:     application,
		DialTimeout:     DefaultDialTimeout,
		MaxResponseSize: DefaultMaxResponseSize,
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	catcher := emt.NewBasicCatcher()
	catcher.NewWhen(c.Host == "", "host must be specified")
	catcher.ErrorfWhen(c.Port <= 0 || c.Port > 65535, "port %d is out of range", c.Port)
	catcher.NewWhen(c.Application == "", "application must be specified")
	catcher.ErrorfWhen(c.DialTimeout < 0, "dial timeout %s is negative", c.DialTimeout)
	catcher.ErrorfWhen(c.RequestTimeout < 0, "request timeout %s is negative", c.RequestTimeout)
	catcher.ErrorfWhen(c.MaxResponseSize < 0, "max response size %d is negative", c.MaxResponseSize)
	return catcher.Resolve()
}
