package constants

// Default timeout values used by client packages
const (
	DefaultHTTPTimeoutSec    = 30
	DefaultEmailJSTimeoutSec = 15
)

// EmailJS REST API
const (
	DefaultEmailJSBaseURL = "https://api.emailjs.com"
	EmailJSSendPath       = "/api/v1.0/email/send"
	MaxErrorBodyBytes     = 4096
)
