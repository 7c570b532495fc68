package cache

import (
	"fmt"
	"net/url"
)

func ProgressKey(jobID string) string {
	return fmt.Sprintf("progress:%s", url.PathEscape(jobID))
}

func LaunchKey(jobID string) string {
	return fmt.Sprintf("launch:%s", url.PathEscape(jobID))
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
