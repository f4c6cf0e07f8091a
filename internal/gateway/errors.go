package gateway

// ResponseFormatError reports that the provider's reply could not be parsed
// as JSON after fence stripping, when the caller asked for structured output.
// Cleaned is the stripped text that failed to parse.
type ResponseFormatError struct {
	Cleaned string
}

func (e *ResponseFormatError) Error() string {
	return "failed to parse JSON response: " + e.Cleaned
}
