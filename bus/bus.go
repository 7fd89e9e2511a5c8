package bus

import (
	"errors"
	"strings"
)

var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
	ErrInvalidQueue   = errors.New("invalid queue group")
)

// Message is one delivery.
type Message struct {
	Subject string
	Data    []byte
}

// MessageBus is at-most-once pub/sub. Subjects are dot-separated tokens;
// subscriptions may use NATS wildcards: "*" matches one token and ">"
// as the last token matches the rest.
type MessageBus interface {
	// Publish never blocks on slow subscribers. Messages nobody is
	// subscribed to, or that find a full buffer, are lost.
	Publish(subject string, data []byte) error

	// Subscribe delivers every matching message to the subscription.
	Subscribe(pattern string) (Subscription, error)

	// QueueSubscribe delivers each matching message to one member of
	// the queue group.
	QueueSubscribe(pattern, queue string) (Subscription, error)

	Close() error
}

// Subscription is a live subscription. Its channel closes on Unsubscribe
// or when the bus closes.
type Subscription interface {
	Messages() <-chan *Message
	Unsubscribe() error
}

// DropCounter is implemented by buses that count deliveries lost to full
// subscription buffers.
type DropCounter interface {
	Dropped() uint64
}

// Config holds settings shared by the bus implementations.
type Config struct {
	// BufferSize per subscription. Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 256}
}

// ValidateSubject checks a publish subject: non-empty tokens, no
// whitespace and no wildcards.
func ValidateSubject(subject string) error {
	return validate(subject, false)
}

// ValidatePattern checks a subscription subject, which may hold wildcards.
func ValidatePattern(pattern string) error {
	return validate(pattern, true)
}

func validate(subject string, wildcards bool) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return ErrInvalidSubject
		case tok == "*" || tok == ">":
			if !wildcards || (tok == ">" && i != len(tokens)-1) {
				return ErrInvalidSubject
			}
		case strings.ContainsAny(tok, "*>"):
			return ErrInvalidSubject
		}
	}
	return nil
}

// MatchSubject reports whether subject falls under pattern.
func MatchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) || (p != "*" && p != st[i]) {
			return false
		}
	}
	return len(pt) == len(st)
}
