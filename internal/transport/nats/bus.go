package nats

import "github.com/nats-io/nats.go"

// Bus publishes ledger events as JSON messages.
type Bus struct {
	nc *nats.Conn
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Publish(topic string, data []byte) error {
	msg := nats.NewMsg(topic)
	msg.Header.Set("Content-Type", "application/json")
	msg.Data = data
	return b.nc.PublishMsg(msg)
}
