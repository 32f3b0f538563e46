package types

import (
	"context"
	"log"
	"sync"
)

type PostFn = func(msg Message)

type MessageHandler interface {
	Run(ctx context.Context, wg *sync.WaitGroup, post PostFn)
	Receive(message Message)
}

// MessageBus fans every posted message out to all receivers from a single
// goroutine, so receivers observe one serialized stream.
type MessageBus struct {
	bus       chan Message
	receivers []MessageHandler
	done      chan struct{}
}

func NewMessageBus(bus chan Message, receivers ...MessageHandler) *MessageBus {
	return &MessageBus{bus, receivers, make(chan struct{})}
}

// Post queues a message from outside the bus goroutine (transport callbacks).
// Messages posted after the bus has stopped are dropped.
func (mb *MessageBus) Post(msg Message) {
	busLen := len(mb.bus)
	busCapacity := cap(mb.bus)
	if busLen > busCapacity/2 {
		log.Printf("WARNING: Bus capacity over 50%% [ %d / %d ]", busLen, busCapacity)
	}
	select {
	case mb.bus <- msg:
	case <-mb.done:
		log.Printf("Bus stopped, message dropped: %s", msg.MessageType)
	}
}

func (mb *MessageBus) Run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()
	defer close(mb.done)

	for _, x := range mb.receivers {
		go x.Run(ctx, wg, mb.Post)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-mb.bus:
			for _, x := range mb.receivers {
				x.Receive(msg)
			}
		}
	}
}
