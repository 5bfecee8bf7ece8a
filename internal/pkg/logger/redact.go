package logger

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	digitRegex = regexp.MustCompile(`\d`)
)

// redactPIIValue masks val according to the field it is logged under.
func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "email") || key == "to" || strings.Contains(key, "address"):
		return RedactEmail(val)
	case strings.Contains(key, "phone"):
		return RedactPhone(val)
	case strings.Contains(key, "url") || strings.Contains(key, "endpoint"):
		return RedactURL(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail keeps the first two characters of the local part.
// "ada.lovelace@example.com" becomes "ad***@example.com"; a local part of
// two characters or fewer is masked whole.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// RedactPhone keeps the last two digits of a phone number.
func RedactPhone(phone string) string {
	digits := digitRegex.FindAllString(phone, -1)
	if len(digits) <= 2 {
		return "***"
	}
	return "***" + strings.Join(digits[len(digits)-2:], "")
}

// RedactURL drops credentials and query values from a URL. Webhook
// endpoints often carry tokens there.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return emailRegex.ReplaceAllStringFunc(raw, RedactEmail)
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q.Set(k, "redacted")
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
