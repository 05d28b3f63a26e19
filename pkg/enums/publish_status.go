package enums

import "fmt"

// PublishStatus maps to the publish_status enum in Postgres.
type PublishStatus string

const (
	PublishStatusPublished PublishStatus = "published"
	PublishStatusFailed    PublishStatus = "failed"
)

var validPublishStatuses = []PublishStatus{
	PublishStatusPublished,
	PublishStatusFailed,
}

func (s PublishStatus) IsValid() bool {
	for _, candidate := range validPublishStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePublishStatus converts raw input into PublishStatus.
func ParsePublishStatus(value string) (PublishStatus, error) {
	for _, candidate := range validPublishStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid publish status %q", value)
}
