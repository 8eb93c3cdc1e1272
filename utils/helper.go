package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ProcessValidationErrors flattens binding failures into a field -> rule
// map for API error responses. Callers must only pass errors that are
// validator.ValidationErrors.
func ProcessValidationErrors(err error) map[string]string {
	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// DecimalOrZero parses a free-form numeric string coming from an external
// system. Invalid, empty, or garbage input coerces to zero; this function
// never returns an error. Thousands separators and surrounding whitespace
// are tolerated.
func DecimalOrZero(value string) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero
	}
	value = strings.ReplaceAll(value, ",", "")
	if d, err := decimal.NewFromString(value); err == nil {
		return d
	}
	return decimal.Zero
}

// ParseTimeOrNil accepts RFC3339 or date-only strings; anything else is nil.
func ParseTimeOrNil(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t
	}
	return nil
}

// Truncate cuts s to at most max bytes without splitting a multibyte rune.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	// drop trailing continuation bytes, then the incomplete lead byte if any
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	if len(cut) > 0 && len(cut) < len(s) && s[len(cut)]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func EnvString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func EnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

var ErrSyncAlreadyRunning = errors.New("a sync run is already in progress for this connection")

// ObtainSyncLock takes a redis lock so that only one sync run per connection
// executes at a time, even across service replicas. The caller must Release
// the returned lock when the run finishes.
func ObtainSyncLock(ctx context.Context, connectionId uint, ttl time.Duration) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		config.LogError(logger, "utils", "ObtainSyncLock", "Redis lock not initialized", connectionId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("CatalogSync:%d", connectionId)
	lock, err := locker.Obtain(ctx, lockKey, ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, ErrSyncAlreadyRunning
	} else if err != nil {
		config.LogError(logger, "utils", "ObtainSyncLock", "Error obtaining sync lock", lockKey, err)
		return nil, err
	}
	return lock, nil
}
