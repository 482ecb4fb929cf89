package domain

import (
	"database/sql/driver"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Monitor timeout bounds in seconds.
const (
	MinTimeoutSeconds     = 5
	MaxTimeoutSeconds     = 300
	DefaultTimeoutSeconds = 30
)

// TagMap stores monitor tags as a jsonb column.
type TagMap map[string]string

func (t TagMap) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	data, err := jsoniter.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (t *TagMap) Scan(src interface{}) error {
	if src == nil {
		*t = TagMap{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("unsupported tag column type %T", src)
	}
	if len(data) == 0 {
		*t = TagMap{}
		return nil
	}
	return jsoniter.Unmarshal(data, t)
}

// Monitor is one configured recurring browser check against a URL.
type Monitor struct {
	ID             int64     `json:"id,string" form:"id"`
	Name           string    `gorm:"index" json:"name" form:"name"`
	URL            string    `json:"url" form:"url"`
	ScheduleCron   string    `json:"schedule_cron" form:"schedule_cron"`
	Enabled        bool      `gorm:"index" json:"enabled" form:"enabled"`
	TimeoutSeconds int       `json:"timeout_seconds" form:"timeout_seconds"`
	Tags           TagMap    `gorm:"type:jsonb" json:"tags" form:"tags"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName Specify table name
func (Monitor) TableName() string {
	return "monitors"
}

// Timeout returns the configured run timeout clamped to the legal bounds.
func (m *Monitor) Timeout() time.Duration {
	secs := m.TimeoutSeconds
	if secs < MinTimeoutSeconds {
		secs = DefaultTimeoutSeconds
	}
	if secs > MaxTimeoutSeconds {
		secs = MaxTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}
