package whatsapp

import "strings"

const (
	DefaultCountryCode = "62"
	UserServer         = "s.whatsapp.net"
	LIDServer          = "lid"
)

// Recipient is a normalized personal chat address: <digits>@s.whatsapp.net.
type Recipient string

// Phone returns the digits part of the address.
func (r Recipient) Phone() string {
	s := string(r)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}

func (r Recipient) String() string {
	return string(r)
}

// NormalizePhone normalizes raw with the default country code.
func NormalizePhone(raw string) string {
	return NormalizePhoneCC(raw, DefaultCountryCode)
}

// NormalizePhoneCC strips any @domain and :device suffix, drops every
// non-digit and replaces a leading 0 by the country code. LID addresses
// normalize to "". Applying it to its
// own output returns the same value.
func NormalizePhoneCC(raw, countryCode string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		// LID addresses carry no phone number
		if s[i+1:] == LIDServer {
			return ""
		}
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	b.Grow(len(s) + len(countryCode))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	cc := strings.TrimLeft(onlyDigits(countryCode), "0")
	for strings.HasPrefix(digits, "0") {
		digits = cc + digits[1:]
	}
	return digits
}

// RecipientOf builds the chat address for an already normalized phone.
func RecipientOf(phone string) Recipient {
	if phone == "" {
		return ""
	}
	return Recipient(phone + "@" + UserServer)
}

// ToRecipient normalizes raw and builds its chat address.
func ToRecipient(raw, countryCode string) Recipient {
	return RecipientOf(NormalizePhoneCC(raw, countryCode))
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
