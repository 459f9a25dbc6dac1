package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CandidateStateKey returns the key of a candidate's in-progress session state
func (r *CacheKeyStruct) CandidateStateKey(candidateID, sessionID string) string {
	return fmt.Sprintf("exstem:candidate:%s:session:%s:state", candidateID, sessionID)
}

// CandidateResultKey returns the key of a candidate's final result slot
func (r *CacheKeyStruct) CandidateResultKey(candidateID, sessionID string) string {
	return fmt.Sprintf("exstem:candidate:%s:session:%s:result", candidateID, sessionID)
}

// ResultSnapshotKey caches the latest pushed snapshot of a result record
func (r *CacheKeyStruct) ResultSnapshotKey(resultID string) string {
	return fmt.Sprintf("result:%s:snapshot", resultID)
}

// SessionCommandChannel returns the Redis PubSub channel carrying proctor commands
func (r *CacheKeyStruct) SessionCommandChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:commands", sessionID)
}

// SessionMonitorChannel returns the Redis PubSub channel for the proctor monitor
func (r *CacheKeyStruct) SessionMonitorChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:monitor", sessionID)
}

// ProctorLoginKey returns the key holding a proctor's active token id
func (r *CacheKeyStruct) ProctorLoginKey(proctorID int) string {
	return fmt.Sprintf("login:proctor:%d", proctorID)
}

var CacheKey = NewCacheKeyStruct()
