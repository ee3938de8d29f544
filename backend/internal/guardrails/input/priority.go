package input

// Inbound execution order
const (
	PriorityConsent    = 10
	PriorityQuota      = 20
	PriorityRate       = 30
	PriorityValidation = 40
	PrioritySanitize   = 50
	PrioritySuspicious = 60
)
