package flow

import (
	"errors"
	"regexp"
	"strings"
)

// ErrBadChannelURL rejects input that cannot be coerced to a canonical
// channel link.
var ErrBadChannelURL = errors.New("flow: malformed channel url")

var channelHandleRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// NormalizeChannelURL coerces owner input to the canonical
// "https://t.me/<handle>" form. Accepted inputs: a bare handle
// (with or without "@"), or a t.me / telegram.me / telegram.dog link
// with or without scheme and trailing slashes.
func NormalizeChannelURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrBadChannelURL
	}

	for _, scheme := range []string{"https://", "http://"} {
		if len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) {
			s = s[len(scheme):]
			break
		}
	}
	s = strings.TrimRight(s, "/")

	for _, host := range []string{"t.me/", "telegram.me/", "telegram.dog/"} {
		if len(s) > len(host) && strings.EqualFold(s[:len(host)], host) {
			s = s[len(host):]
			break
		}
	}
	s = strings.TrimPrefix(s, "@")

	if !channelHandleRe.MatchString(s) {
		return "", ErrBadChannelURL
	}
	return "https://t.me/" + s, nil
}
