// Package transports imports all built-in transports so they register with
// the default registry.
package transports

import (
	_ "github.com/drblury/phaseflow/transport/aws"
	_ "github.com/drblury/phaseflow/transport/channel"
	_ "github.com/drblury/phaseflow/transport/http"
	_ "github.com/drblury/phaseflow/transport/kafka"
	_ "github.com/drblury/phaseflow/transport/nats"
	_ "github.com/drblury/phaseflow/transport/rabbitmq"
)
