package types

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

type logger struct {
	skip map[string]bool
}

// NewLogger logs every bus message except the high-rate ones listed in skip.
func NewLogger(skip ...string) MessageHandler {
	l := &logger{make(map[string]bool)}
	for _, s := range skip {
		l.skip[s] = true
	}
	return l
}

func (l *logger) Receive(message Message) {
	if l.skip[message.MessageType] {
		return
	}

	b, err := json.Marshal(message.Message)
	if err != nil {
		log.Printf("Message: %s (%s -> %s): <%v>", message.MessageType, message.From, message.To, err)
		return
	}

	log.Printf("Message: %s (%s -> %s): %s", message.MessageType, message.From, message.To, string(b))
}

func (l *logger) Run(ctx context.Context, wg *sync.WaitGroup, post PostFn) {
}
