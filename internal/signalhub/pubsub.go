package signalhub

import (
	"context"

	"jobchat/backend/internal/models"
	"jobchat/backend/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Listen forwards signals published on Redis by any instance of the service
// to this hub's listeners. It returns when ctx is done or ps is closed.
func (h *Hub) Listen(ctx context.Context, ps *redis.PubSub) {
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			sig, err := notify.DecodeSignal(msg.Channel, msg.Payload)
			if err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed signal")
				continue
			}
			h.Deliver(sig)
		}
	}
}

// LocalNotifier delivers signals straight to an in-process hub. It is used
// when the service runs without Redis: presence is unknown, so every user
// counts as online and no offline alerts are queued.
type LocalNotifier struct {
	notify.Nop
	Hub *Hub
}

func (n LocalNotifier) Publish(_ context.Context, sig models.Signal) error {
	n.Hub.Deliver(sig)
	return nil
}
