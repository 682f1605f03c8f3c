// Package events - внутрипроцессная шина событий с асинхронной доставкой.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	TopicUnauthorized = "auth:unauthorized"
	TopicCommentAdded = "comment:added"
)

const defaultBuffer = 16

type Event struct {
	Topic   string
	Payload any
}

type Handler func(Event)

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus доставляет события подписчикам без блокировки издателя. Если буфер
// подписчика заполнен, событие для него отбрасывается.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscriber
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[string]map[string]*subscriber)}
}

// Subscribe регистрирует обработчик; каждый подписчик обслуживается своей горутиной.
// Возвращает функцию отписки.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	id, ch := b.add(topic, defaultBuffer)
	if ch == nil {
		return func() {}
	}
	go func() {
		for ev := range ch {
			h(ev)
		}
	}()
	return func() { b.remove(topic, id) }
}

// Channel возвращает канал событий темы; канал закрывается по завершении ctx
func (b *Bus) Channel(ctx context.Context, topic string, buffer int) <-chan Event {
	if buffer < 1 {
		buffer = 1
	}
	id, ch := b.add(topic, buffer)
	if ch == nil {
		out := make(chan Event)
		close(out)
		return out
	}
	go func() {
		<-ctx.Done()
		b.remove(topic, id)
	}()
	return ch
}

func (b *Bus) add(topic string, buffer int) (string, chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", nil
	}
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan Event, buffer)}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*subscriber)
	}
	b.subs[topic][id] = sub
	return id, sub.ch
}

func (b *Bus) remove(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[topic][id]; ok {
		sub.close()
		delete(b.subs[topic], id)
	}
}

// Publish не ждет обработчиков
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs[topic] {
		select {
		case sub.ch <- ev:
		default:
			log.WithFields(log.Fields{"topic": topic, "subscriber": id}).Warn("Буфер подписчика заполнен, событие отброшено")
		}
	}
}

// Close отписывает всех; последующие Publish ничего не делают
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
		delete(b.subs, topic)
	}
	b.closed = true
}
