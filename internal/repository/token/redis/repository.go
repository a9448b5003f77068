// Package redis stores share tokens in redis. Keys outlive ExpiresAt by a retention window so that
// a late use is still reported as expired instead of unknown.
package redis

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc                         *redis.Client
	logger                     *slog.Logger
	retention                  time.Duration
	setIfNotExistsScript       string
	deleteKeysWithPrefixScript string
}

func NewRepo(rc *redis.Client, logger *slog.Logger, retention time.Duration) *repo {
	return &repo{
		rc:        rc,
		logger:    logger,
		retention: retention,
		setIfNotExistsScript: rc.ScriptLoad(context.Background(), `
			if redis.call('EXISTS', KEYS[1]) == 1 then
				return 0
			end
			redis.call('HSET', KEYS[1], 'created_by', ARGV[1], 'created_at', ARGV[2], 'expires_at', ARGV[3])
			redis.call('PEXPIREAT', KEYS[1], ARGV[4])
			return 1
		`).Val(),
		deleteKeysWithPrefixScript: rc.ScriptLoad(context.Background(), `
			local pattern = ARGV[1]
			local cursor = "0"
			local count = 0

			repeat
				local result = redis.call('SCAN', cursor, 'MATCH', pattern)
				cursor = result[1]
				local keys = result[2]

				for i, key in ipairs(keys) do
					redis.call('DEL', key)
					count = count + 1
				end
			until cursor == "0"

			return count
		`).Val(),
	}
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (r repo) getRoomTokensPrefix(roomID string) string {
	return "room:" + roomID + ":share-token:"
}

func (r repo) getTokenKey(roomID, value string) string {
	return r.getRoomTokensPrefix(roomID) + value
}

func (r repo) getRoomTokensPattern(roomID string) string {
	return globReplacer.Replace(r.getRoomTokensPrefix(roomID)) + "*"
}
