package output

// Outbound execution order
const (
	PriorityQuality = 10
	PriorityBias    = 20
	PriorityContent = 30
)
