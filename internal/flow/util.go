package flow

import (
	"errors"
	"os"
	"strings"
)

// Symlink links target at linkpath, replacing whatever is already there.
func Symlink(target, linkpath string) (string, error) {
	err := os.Symlink(target, linkpath)
	if err == nil {
		return linkpath, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return "", err
	}
	if err := os.Remove(linkpath); err != nil {
		return "", err
	}
	if err := os.Symlink(target, linkpath); err != nil {
		return "", err
	}
	return linkpath, nil
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// ReplaceToken substitutes every %KEY occurrence in s with repl. Matching
// is word-boundary aware: %IN does not match inside %INPUT. A literal % in
// user content must be escaped by choosing keys that cannot collide.
func ReplaceToken(s, key, repl string) string {
	token := "%" + key
	var b strings.Builder
	i := 0
	for {
		j := strings.Index(s[i:], token)
		if j < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		j += i
		end := j + len(token)
		if end < len(s) && isWordByte(s[end]) {
			// Longer identifier such as %INPUT; not this token.
			b.WriteString(s[i:end])
			i = end
			continue
		}
		b.WriteString(s[i:j])
		b.WriteString(repl)
		i = end
	}
}

// HasToken reports whether s contains the %KEY token at a word boundary.
func HasToken(s, key string) bool {
	token := "%" + key
	i := 0
	for {
		j := strings.Index(s[i:], token)
		if j < 0 {
			return false
		}
		j += i
		end := j + len(token)
		if end >= len(s) || !isWordByte(s[end]) {
			return true
		}
		i = end
	}
}
