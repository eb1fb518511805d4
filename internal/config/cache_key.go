package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// ExamUnlockedKey marks an exam as unlocked by its password for a student
func (r *CacheKeyStruct) ExamUnlockedKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:unlocked", studentID, examID)
}

// PasswordAttemptsKey counts password guesses for an exam by a student
func (r *CacheKeyStruct) PasswordAttemptsKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:password_attempts", studentID, examID)
}

// ExamPayloadKey returns the cache key for an exam's full payload
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamScoringKey returns the cache key for an exam's scoring sheet
func (r *CacheKeyStruct) ExamScoringKey(examID string) string {
	return fmt.Sprintf("exam:%s:scoring", examID)
}

// AttemptMetaKey returns the cache key for an attempt's ownership record
func (r *CacheKeyStruct) AttemptMetaKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:meta", attemptID)
}

// AttemptAnswersKey returns the cache key for an attempt's answer hash
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptViolationsKey returns the counter key for an attempt's violations
func (r *CacheKeyStruct) AttemptViolationsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:violations", attemptID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
