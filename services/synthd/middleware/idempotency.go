package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// HeaderIdempotencyKey carries the client supplied retry key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderReplayed marks responses served from the idempotency table.
const HeaderReplayed = "Idempotent-Replayed"

const maxKeyLength = 128

type contextKeyIdempotency struct{}

// IdempotencyKey stores the first completed response for a key.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// OpenIdempotencyDB opens the idempotency table. Postgres DSNs (URL or
// key=value form) use the postgres driver, anything else is treated as a
// SQLite DSN.
func OpenIdempotencyDB(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("idempotency dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") || strings.HasPrefix(trimmed, "host=") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open idempotency db: %w", err)
	}
	if err := db.AutoMigrate(&IdempotencyKey{}); err != nil {
		return nil, fmt.Errorf("migrate idempotency db: %w", err)
	}
	return db, nil
}

// IdempotencyKeyFromContext returns the key attached by WithIdempotency.
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(contextKeyIdempotency{}).(string)
	return key
}

// WithIdempotency replays the stored response when a request repeats a key.
// Server errors are not stored so the client can retry them.
func WithIdempotency(db *gorm.DB, logger *log.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" || db == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLength {
			http.Error(w, "idempotency key too long", http.StatusBadRequest)
			return
		}

		var record IdempotencyKey
		err := db.WithContext(r.Context()).First(&record, "key = ?", key).Error
		switch {
		case err == nil:
			if record.Method != r.Method || record.Path != r.URL.Path {
				http.Error(w, "idempotency key reused for a different request", http.StatusUnprocessableEntity)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderReplayed, "true")
			w.WriteHeader(record.Status)
			_, _ = io.WriteString(w, record.Response)
			return
		case !errors.Is(err, gorm.ErrRecordNotFound):
			http.Error(w, "idempotency lookup failed", http.StatusInternalServerError)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w}
		ctx := context.WithValue(r.Context(), contextKeyIdempotency{}, key)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		if recorder.status >= http.StatusInternalServerError {
			return
		}
		payload := IdempotencyKey{
			Key:       key,
			RequestID: uuid.NewString(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    recorder.status,
			Response:  recorder.buf.String(),
			CreatedAt: time.Now().UTC(),
		}
		if err := db.WithContext(r.Context()).Create(&payload).Error; err != nil {
			logger.Printf("synthd: store idempotency key %s for %s %s: %v", key, r.Method, r.URL.Path, err)
		}
	})
}

type responseRecorder struct {
	http.ResponseWriter
	buf    strings.Builder
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	if rr.status == 0 {
		rr.status = status
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
