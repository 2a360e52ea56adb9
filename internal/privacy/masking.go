package privacy

import (
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskEmail keeps the first character of the local part and the domain
// Example: "ana.lopez@example.com" -> "a********@example.com"
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return maskString(email, 0)
	}

	local, domain := email[:at], email[at:]
	if len(local) == 1 {
		return "*" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + domain
}

// MaskName keeps only initials
// Example: "Ana Lopez" -> "A** L****"
func MaskName(name string) string {
	if name == "" {
		return ""
	}

	parts := strings.Fields(name)
	for i, part := range parts {
		runes := []rune(part)
		parts[i] = string(runes[0]) + strings.Repeat("*", len(runes)-1)
	}
	return strings.Join(parts, " ")
}

// MaskClientID masks an outbox client id while keeping its tail for correlation
func MaskClientID(clientID string) string {
	if clientID == "" {
		return ""
	}
	return maskString(clientID, 6)
}

// MaskURLQuery drops the query string from a URL so tokens never reach the logs
func MaskURLQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i] + "?***"
	}
	return rawURL
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "phone", "phone_number", "number":
			masked[k] = MaskPhoneNumber(s)
		case "email", "reply_to":
			masked[k] = MaskEmail(s)
		case "name", "from_name":
			masked[k] = MaskName(s)
		case "client_id", "clientId":
			masked[k] = MaskClientID(s)
		case "message", "body":
			masked[k] = maskString(s, 0)
		default:
			masked[k] = v
		}
	}

	return masked
}

// MaskFormFields returns a copy of a contact form safe for logging
func MaskFormFields(fields map[string]string) map[string]interface{} {
	if fields == nil {
		return nil
	}
	generic := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		generic[k] = v
	}
	return MaskSensitiveFields(generic)
}
