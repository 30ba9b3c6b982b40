// Package auth implements the HMAC signature schemes of the Pusher protocol:
// channel subscription auth, user signin, and control-API request signing.
// All comparisons are constant-time.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidSignature is returned when a signature does not verify.
var ErrInvalidSignature = errors.New("invalid signature")

// Sign returns the hex-encoded HMAC-SHA256 of message under secret.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares the expected signature of message against the provided
// hex digest in constant time.
func verify(secret, message, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

// channelAuthString builds the signed string for a channel subscription:
// "<socket_id>:<channel>" with ":<channel_data>" appended when channel data
// accompanies the subscribe (presence variants).
func channelAuthString(socketID, channel, channelData string) string {
	s := socketID + ":" + channel
	if channelData != "" {
		s += ":" + channelData
	}
	return s
}

// SignChannel produces the full auth token ("<key>:<hex sig>") a client
// presents when subscribing to a private or presence channel.
func SignChannel(key, secret, socketID, channel, channelData string) string {
	return key + ":" + Sign(secret, channelAuthString(socketID, channel, channelData))
}

// VerifyChannel checks a subscription auth token. The token must name the
// application's key and carry a valid signature.
func VerifyChannel(key, secret, socketID, channel, channelData, token string) error {
	gotKey, sig, ok := strings.Cut(token, ":")
	if !ok || gotKey != key {
		return ErrInvalidSignature
	}
	if !verify(secret, channelAuthString(socketID, channel, channelData), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// signinString builds the signed string for pusher:signin.
func signinString(socketID, userData string) string {
	return socketID + "::user::" + userData
}

// SignUser produces the auth token for a pusher:signin message.
func SignUser(key, secret, socketID, userData string) string {
	return key + ":" + Sign(secret, signinString(socketID, userData))
}

// VerifyUser checks a pusher:signin auth token.
func VerifyUser(key, secret, socketID, userData, token string) error {
	gotKey, sig, ok := strings.Cut(token, ":")
	if !ok || gotKey != key {
		return ErrInvalidSignature
	}
	if !verify(secret, signinString(socketID, userData), sig) {
		return ErrInvalidSignature
	}
	return nil
}
