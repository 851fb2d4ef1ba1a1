package chaos

// declineMessages maps every decline code the coordinator can inject to the
// human-readable message surfaced on charges and payment intents. The set is
// wider than what processors typically return, for test coverage breadth.
var declineMessages = map[string]string{
	"card_declined":       "Your card was declined.",
	"generic_decline":     "Your card was declined.",
	"insufficient_funds":  "Your card has insufficient funds.",
	"expired_card":        "Your card has expired.",
	"incorrect_cvc":       "Your card's security code is incorrect.",
	"incorrect_number":    "Your card number is incorrect.",
	"processing_error":    "An error occurred while processing your card. Try again in a little bit.",
	"lost_card":           "Your card was declined.",
	"stolen_card":         "Your card was declined.",
	"fraudulent":          "Your card was declined.",
	"do_not_honor":        "Your card was declined.",
	"pickup_card":         "Your card was declined.",
	"call_issuer":         "Your card was declined.",
	"currency_not_supported": "Your card does not support this currency.",
}

const genericDeclineMessage = "Your card was declined."

// DeclineMessage returns the message for a code, falling back to the
// generic decline text for unknown codes.
func DeclineMessage(code string) string {
	if msg, ok := declineMessages[code]; ok {
		return msg
	}
	return genericDeclineMessage
}

// KnownDeclineCode reports whether a code may be configured for injection.
func KnownDeclineCode(code string) bool {
	_, ok := declineMessages[code]
	return ok
}

// DeclineCodes lists the codes accepted by the payment policy.
func DeclineCodes() []string {
	codes := make([]string, 0, len(declineMessages))
	for code := range declineMessages {
		codes = append(codes, code)
	}
	return codes
}
