// Package presence Redis에 샌드박스 접속자 목록을 미러링
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"tabletop-backend/internal/registry"
)

// rosterTTL 서버가 비정상 종료돼도 키가 남지 않도록 TTL 유지
const rosterTTL = 24 * time.Hour

// Manager Presence 관리자
type Manager struct {
	client *redis.Client
}

// NewManager 생성자 (연결 확인 포함)
func NewManager(addr, password string, db int) (*Manager, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Presence] Connected to Redis at %s", addr)
	return &Manager{client: rdb}, nil
}

// Key 생성 유틸
func rosterKey(sandboxID string) string {
	return fmt.Sprintf("presence:sandbox:%s:roster", sandboxID)
}

// PublishRoster 샌드박스 접속자 목록 저장
func (m *Manager) PublishRoster(ctx context.Context, sandboxID string, roster []registry.Member) error {
	data, err := json.Marshal(roster)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, rosterKey(sandboxID), data, rosterTTL).Err()
}

// ClearRoster 샌드박스가 비면 키 삭제
func (m *Manager) ClearRoster(ctx context.Context, sandboxID string) error {
	return m.client.Del(ctx, rosterKey(sandboxID)).Err()
}

// GetRoster 저장된 접속자 목록 조회
func (m *Manager) GetRoster(ctx context.Context, sandboxID string) ([]registry.Member, error) {
	data, err := m.client.Get(ctx, rosterKey(sandboxID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var roster []registry.Member
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

// Ping 연결 상태 확인
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close 연결 종료
func (m *Manager) Close() error {
	return m.client.Close()
}
