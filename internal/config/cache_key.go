package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey returns the cache key for a user's login session.
func (r *CacheKeyStruct) UserSessionKey(userID string) string {
	return fmt.Sprintf("login:%s", userID)
}

// SheetAnswersKey returns the cache key for a sheet's autosaved answers.
func (r *CacheKeyStruct) SheetAnswersKey(sheetID string) string {
	return fmt.Sprintf("sheet:%s:answers", sheetID)
}

// SheetStartKey returns the cache key for a sheet's creation timestamp,
// the origin for all remaining-time computation.
func (r *CacheKeyStruct) SheetStartKey(sheetID string) string {
	return fmt.Sprintf("sheet:%s:created_at", sheetID)
}

// ExamFeedChannel returns the Redis PubSub channel carrying live session
// update events for one exam. Both the teacher console feed and refreshed
// student sessions subscribe to it.
func (r *CacheKeyStruct) ExamFeedChannel(examID string) string {
	return fmt.Sprintf("exam:%s:feed", examID)
}

var CacheKey = NewCacheKeyStruct()
