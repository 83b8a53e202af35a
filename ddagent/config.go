package ddagent

import (
	"github.com/DataDog/dd-trace-go/tracer"
	"github.com/go-logr/logr"
)

// DefaultService is the service name spans are reported under when none is
// configured.
const DefaultService = "apm-go-opentracing"

// Configuration is used to define DataDog Tracer properties to be set when creating a new agent
type Configuration struct {
	Service             string      // Service name reported with every span (default: DefaultService)
	SampleRate          float64     // Sample rate for collecting transactions (0-1)
	DebugLoggingEnabled bool        // Enable or Disable DebugLogging (default: false)
	Enabled             bool        // Enable or Disable the tracer (default: false)
	Logger              logr.Logger // Receives dropped errors and malformed parents
}

// NewAgent initializes the agent with the default transport
func (c *Configuration) NewAgent() *Agent {
	return c.NewAgentTransport(nil)
}

// NewAgentTransport initializes a new agent with a supplied custom transport
func (c *Configuration) NewAgentTransport(transport tracer.Transport) *Agent {
	var driver *tracer.Tracer
	if transport == nil {
		driver = tracer.NewTracer()
	} else {
		driver = tracer.NewTracerTransport(transport)
	}

	driver.SetEnabled(c.Enabled)
	driver.SetDebugLogging(c.DebugLoggingEnabled)
	driver.SetSampleRate(c.SampleRate)

	a := newAgent(driver, c.Service)
	if c.Logger.GetSink() != nil {
		a.logger = c.Logger
	}
	return a
}
