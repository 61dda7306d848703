package config

import "time"

const (
	// Store backends
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	// Attachments per lease
	MaxAttachments = 5

	// Pool sizing
	PoolMaxConns = 20
	PoolMinConns = 5

	// Read retry backoff for idempotent queries
	ReadRetryBackoff = 150 * time.Millisecond

	// Telegram limits
	MaxTelegramMessageLen = 4096

	// Bot rate limit per chat
	RateLimitMessages = 20
	RateLimitWindow   = time.Minute

	// Moderation list page size
	ModerationPageSize = 10

	// Referral list page size
	CommissionsPageSize = 50

	// Referral QR code size in pixels
	ReferralQRSize = 256
)

// AllowedAttachmentTypes maps accepted upload content types to file extensions.
var AllowedAttachmentTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
}
