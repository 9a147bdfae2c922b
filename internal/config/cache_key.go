package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionStatusKey returns the hash key holding a session's status snapshot
func (r *CacheKeyStruct) SessionStatusKey(sessionID string) string {
	return fmt.Sprintf("session:%s:status", sessionID)
}

// ReportLockKey returns the lock key serializing report synthesis for a session
func (r *CacheKeyStruct) ReportLockKey(sessionID string) string {
	return fmt.Sprintf("session:%s:report_lock", sessionID)
}

// SessionEventsChannel returns the Redis PubSub channel name for a session's events
func (r *CacheKeyStruct) SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

// ViolationRateKey returns the per-session proctoring rate counter key
func (r *CacheKeyStruct) ViolationRateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:violation_rate", sessionID)
}

var CacheKey = NewCacheKeyStruct()
