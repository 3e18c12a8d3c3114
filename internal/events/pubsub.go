package events

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionChannel — канал pub/sub для событий сессий (выход из системы)
const SessionChannel = "portal.session.events"

// Типы событий сессии
const (
	EventSignedOut = "session_signed_out"
)

// SessionEvent — событие жизненного цикла сессии, рассылаемое всем вкладкам
// и всем инстансам API
type SessionEvent struct {
	Type      string    `json:"type"`
	Email     string    `json:"email"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PubSubProvider определяет интерфейс для провайдеров публикации/подписки
type PubSubProvider interface {
	// Publish публикует сообщение в указанный канал
	Publish(channel string, message []byte) error

	// Subscribe подписывается на указанный канал и возвращает канал для сообщений
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Close закрывает все соединения и освобождает ресурсы
	Close() error
}

// NoOpPubSub реализует PubSubProvider для одиночного инстанса без Redis.
// Publish доставляет сообщения локальным подписчикам напрямую, поэтому
// cross-tab выход работает и без кластеризации.
type NoOpPubSub struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

func NewNoOpPubSub() *NoOpPubSub {
	return &NoOpPubSub{subs: make(map[string][]chan []byte)}
}

// Publish реализует метод PubSubProvider.Publish для NoOpPubSub
func (p *NoOpPubSub) Publish(channel string, message []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs[channel] {
		select {
		case ch <- message:
		default:
			// Подписчик не успевает; сообщение для него теряется
		}
	}
	return nil
}

// Subscribe реализует метод PubSubProvider.Subscribe для NoOpPubSub
func (p *NoOpPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	msgCh := make(chan []byte, 64)

	p.mu.Lock()
	if p.subs == nil {
		p.subs = make(map[string][]chan []byte)
	}
	p.subs[channel] = append(p.subs[channel], msgCh)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		chans := p.subs[channel]
		for i, ch := range chans {
			if ch == msgCh {
				p.subs[channel] = append(chans[:i], chans[i+1:]...)
				close(msgCh)
				break
			}
		}
	}()
	return msgCh, nil
}

// Close реализует метод PubSubProvider.Close для NoOpPubSub
func (p *NoOpPubSub) Close() error {
	return nil
}

// RedisPubSub реализует PubSubProvider поверх Redis Pub/Sub для работы
// нескольких инстансов API
type RedisPubSub struct {
	client redis.UniversalClient
	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisPubSub создает новый Redis PubSub провайдер
func NewRedisPubSub(client redis.UniversalClient) (*RedisPubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required for RedisPubSub")
	}
	return &RedisPubSub{client: client}, nil
}

// Publish публикует сообщение в канал Redis
func (p *RedisPubSub) Publish(channel string, message []byte) error {
	return p.client.Publish(context.Background(), channel, message).Err()
}

// Subscribe подписывается на канал Redis и перекачивает сообщения в Go-канал
func (p *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("redis pubsub provider is closed")
	}
	sub := p.client.Subscribe(ctx, channel)
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	// Дожидаемся подтверждения подписки, чтобы не терять ранние сообщения
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	msgCh := make(chan []byte, 64)
	go func() {
		defer close(msgCh)
		redisCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case msgCh <- []byte(msg.Payload):
				default:
					log.Printf("[RedisPubSub] subscriber buffer full, dropping message on %s", channel)
				}
			}
		}
	}()
	return msgCh, nil
}

// Close закрывает все подписки
func (p *RedisPubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil {
			log.Printf("[RedisPubSub] error closing subscription: %v", err)
		}
	}
	return nil
}
