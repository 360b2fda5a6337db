package email

const (
	subjectRecommendationReady = "Your provider shortlist is ready"
	subjectBookingConfirmed    = "Your appointment is confirmed"
	subjectRequestFailed       = "We could not complete your request"
)
