package rabbitmq

import (
	"context"
	"fmt"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// New dials the broker with a bounded TCP dial and proves the connection
// usable by opening a throwaway channel. A connection can complete the AMQP
// handshake yet refuse channels while the broker is draining, and catching
// that here beats failing on the first publish.
func New(ctx context.Context, url string) (*amqp.Connection, error) {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	_ = ch.Close()

	return conn, nil
}
