package watch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ChannelToken is the value registered as the channel token. The provider echoes it
// in X-Goog-Channel-Token on every push, binding the push to a channel we created.
func ChannelToken(secret, channelID string) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(channelID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyChannelToken checks a pushed token. With no secret configured every token
// is accepted.
func VerifyChannelToken(secret, channelID, token string) bool {
	if secret == "" {
		return true
	}
	return hmac.Equal([]byte(token), []byte(ChannelToken(secret, channelID)))
}
